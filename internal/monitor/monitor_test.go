package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/swarmwatch/internal/config"
	"github.com/ryandielhenn/swarmwatch/pkg/directory"
	"github.com/ryandielhenn/swarmwatch/pkg/probe"
	"github.com/ryandielhenn/swarmwatch/pkg/report"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
	"github.com/ryandielhenn/swarmwatch/pkg/store"
)

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

// cluster starts one healthy and one failing storage server plus a seed that
// lists both.
func cluster(t *testing.T) (seedURL string) {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"version":"2.0.7","height":10,"total_stored":5,"connections_in":1}`))
	}))
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(up.Close)
	t.Cleanup(down.Close)

	upHost, upPort := hostPort(t, up)
	downHost, downPort := hostPort(t, down)
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":"0","result":{"service_node_states":[
		{"public_ip":%q,"storage_port":%d,"pubkey_ed25519":"edUp","swarm_id":1},
		{"public_ip":%q,"storage_port":%d,"pubkey_ed25519":"edDown","swarm_id":1}]}}`,
		upHost, upPort, downHost, downPort)

	seed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(seed.Close)
	return seed.URL
}

func testConfig(seedURL string) config.Config {
	cfg := config.Default()
	cfg.Network = "local"
	cfg.Networks = map[string]directory.Network{"local": {SeedURL: seedURL, Testnet: true}}
	cfg.ProbeInterval = 10 * time.Millisecond
	cfg.RefreshInterval = 50 * time.Millisecond
	cfg.ProbeTimeout = time.Second
	return cfg
}

func TestMonitorEndToEnd(t *testing.T) {
	mem := store.NewMemoryStore()
	m, err := New(testConfig(cluster(t)), nil,
		WithStore(mem),
		WithStatsClient(probe.NewClient(time.Second, probe.WithScheme("http"))),
	)
	require.NoError(t, err)
	defer m.Close()
	assert.True(t, m.Network().Testnet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Cache.Len() == 2 }, 5*time.Second, 10*time.Millisecond)
	// Let several rotations pass; stable nodes must not add rows.
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	m.Poller.Wait()

	up, _ := m.Cache.Status("edUp")
	down, _ := m.Cache.Status("edDown")
	assert.Equal(t, snode.Online, up.Status)
	assert.Equal(t, snode.Offline, down.Status)

	rows, err := mem.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2, "one transition per node, repeats are not persisted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]report.NodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["1"], 2)
	assert.Equal(t, "edDown", body["1"][0].EdKey)
	assert.False(t, body["1"][0].Online)
	assert.Equal(t, "2.0.7", body["1"][1].Version)
	assert.True(t, body["1"][1].Online)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "swarmwatch_probes_total")
}

func TestMonitorRestoresFromStore(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.Append(ctx, snode.Transition{NodeID: "edUp", Timestamp: time.Unix(10, 0), Status: snode.Offline}))
	require.NoError(t, mem.Append(ctx, snode.Transition{NodeID: "edUp", Timestamp: time.Unix(20, 0), Status: snode.Online}))

	m, err := New(testConfig("http://127.0.0.1:1/json_rpc"), nil, WithStore(mem))
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx))

	st, ok := m.Cache.Status("edUp")
	require.True(t, ok)
	assert.Equal(t, snode.Online, st.Status)
	assert.Equal(t, time.Unix(20, 0), st.Timestamp)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BatchSize = 0
	_, err := New(cfg, nil)
	require.Error(t, err)
}
