// Package directory fetches the member list of a service node network.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

// DefaultLimit is how many nodes are requested per fetch.
const DefaultLimit = 2000

// ErrRPC is returned when the daemon answers with a JSON-RPC error object.
var ErrRPC = errors.New("json-rpc error")

// RPCClient queries a daemon's get_n_service_nodes JSON-RPC method.
type RPCClient struct {
	http  *http.Client
	limit int
}

func NewRPCClient(timeout time.Duration, limit int) *RPCClient {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RPCClient{
		http:  &http.Client{Timeout: timeout},
		limit: limit,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Limit      int             `json:"limit"`
	Fields     map[string]bool `json:"fields"`
	ActiveOnly bool            `json:"active_only"`
}

type rpcResponse struct {
	Result *struct {
		ServiceNodeStates []snode.Descriptor `json:"service_node_states"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var requestedFields = map[string]bool{
	"public_ip":        true,
	"storage_port":     true,
	"storage_lmq_port": true,
	"pubkey_x25519":    true,
	"pubkey_ed25519":   true,
	"swarm_id":         true,
}

// FetchAll returns every node the network's seed reports. Records without an
// ed25519 key cannot be tracked and are left out.
func (c *RPCClient) FetchAll(ctx context.Context, net Network) ([]snode.NodeEntry, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "0",
		Method:  "get_n_service_nodes",
		Params: rpcParams{
			Limit:      c.limit,
			Fields:     requestedFields,
			ActiveOnly: false,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, net.SeedURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", net.SeedURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Errorf("%s answered %s", net.SeedURL, resp.Status)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode get_n_service_nodes response")
	}
	if out.Error != nil {
		return nil, errors.Wrapf(ErrRPC, "code %d: %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == nil {
		return nil, errors.New("response has no result")
	}

	entries := make([]snode.NodeEntry, 0, len(out.Result.ServiceNodeStates))
	for _, d := range out.Result.ServiceNodeStates {
		if d.PubkeyEd25519 == "" {
			continue
		}
		entries = append(entries, snode.NodeEntry{ID: d.ID(), Descriptor: d})
	}
	return entries, nil
}
