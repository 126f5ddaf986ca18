package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

const TransitionKeyPrefix = "/swarmwatch/transitions/"

// NewClient dials etcd.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dial etcd")
	}
	return cli, nil
}

// row is the stored value, shaped like the online_status table rows:
// date is unix seconds, status 0 online / 1 offline.
type row struct {
	EdKey  string `json:"edkey"`
	Date   int64  `json:"date"`
	Status int64  `json:"status"`
}

// kv is the part of the etcd client the store uses. *clientv3.Client
// satisfies it.
type kv interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
}

// EtcdStore appends transitions as individual keys under TransitionKeyPrefix.
type EtcdStore struct {
	client kv
	prefix string
	boot   int64
	seq    atomic.Uint64
	log    *zap.Logger
}

func NewEtcdStore(cli *clientv3.Client, logger *zap.Logger) *EtcdStore {
	return newEtcdStore(cli, logger)
}

func newEtcdStore(cli kv, logger *zap.Logger) *EtcdStore {
	return &EtcdStore{
		client: cli,
		prefix: TransitionKeyPrefix,
		boot:   time.Now().UnixNano(),
		log:    logging.OrNop(logger),
	}
}

// Append writes one row. The key carries a per-process boot stamp and sequence
// so transitions inside the same second never overwrite each other, across
// restarts included.
func (s *EtcdStore) Append(ctx context.Context, t snode.Transition) error {
	key := transitionKey(s.prefix, t, s.boot, s.seq.Add(1))
	val, err := json.Marshal(row{
		EdKey:  t.NodeID.String(),
		Date:   t.Timestamp.Unix(),
		Status: int64(t.Status),
	})
	if err != nil {
		return errors.Wrap(err, "marshal transition")
	}
	if _, err := s.client.Put(ctx, key, string(val)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	return nil
}

// ReadAll scans every stored row in key order. Rows that fail to decode are
// logged and skipped.
func (s *EtcdStore) ReadAll(ctx context.Context) ([]snode.Transition, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, errors.Wrap(err, "scan transitions")
	}
	out := make([]snode.Transition, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		t, err := decodeTransition(kv)
		if err != nil {
			s.log.Warn("skipping transition row", zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// transitionKey pads every number so etcd's byte order matches append order.
func transitionKey(prefix string, t snode.Transition, boot int64, seq uint64) string {
	return fmt.Sprintf("%s%s/%020d-%020d-%020d", prefix, t.NodeID, t.Timestamp.Unix(), boot, seq)
}

func decodeTransition(kv *mvccpb.KeyValue) (snode.Transition, error) {
	var r row
	if err := json.Unmarshal(kv.Value, &r); err != nil {
		return snode.Transition{}, errors.Wrapf(err, "decode %s", kv.Key)
	}
	if strings.TrimSpace(r.EdKey) == "" {
		return snode.Transition{}, errors.Errorf("row %s has no node key", kv.Key)
	}
	return snode.Transition{
		NodeID:    snode.NodeID(r.EdKey),
		Timestamp: time.Unix(r.Date, 0),
		Status:    snode.StatusFromCode(r.Status),
	}, nil
}
