package directory

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

const NodeKeyPrefix = "/swarmwatch/nodes/"

// etcdClient is the part of the etcd client the directory uses.
// *clientv3.Client satisfies it.
type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
}

// EtcdDirectory reads node descriptors published under a key prefix, one JSON
// descriptor per key. The key suffix is the node's ed25519 key.
type EtcdDirectory struct {
	client etcdClient
	log    *zap.Logger
}

func NewEtcdDirectory(cli *clientv3.Client, logger *zap.Logger) *EtcdDirectory {
	return newEtcdDirectory(cli, logger)
}

func newEtcdDirectory(cli etcdClient, logger *zap.Logger) *EtcdDirectory {
	return &EtcdDirectory{client: cli, log: logging.OrNop(logger)}
}

// FetchAll lists the nodes published for net, under NodeKeyPrefix/<network>/.
func (d *EtcdDirectory) FetchAll(ctx context.Context, net Network) ([]snode.NodeEntry, error) {
	prefix := NodeKeyPrefix + net.Name + "/"
	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}

	entries := make([]snode.NodeEntry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		e, err := decodeEntry(prefix, kv)
		if err != nil {
			d.log.Warn("skipping node record", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Grant creates a lease of ttl seconds to pass to Publish. ttl <= 0 returns
// clientv3.NoLease.
func (d *EtcdDirectory) Grant(ctx context.Context, ttl int64) (clientv3.LeaseID, error) {
	if ttl <= 0 {
		return clientv3.NoLease, nil
	}
	resp, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return clientv3.NoLease, errors.Wrap(err, "grant lease")
	}
	return resp.ID, nil
}

// Publish writes a descriptor under the network's prefix. Keys bound to a
// lease drop out of the directory once the lease expires, so a node that
// stops being published disappears on its own.
func (d *EtcdDirectory) Publish(ctx context.Context, net Network, desc snode.Descriptor, lease clientv3.LeaseID) error {
	if desc.PubkeyEd25519 == "" {
		return errors.New("descriptor has no ed25519 key")
	}
	val, err := json.Marshal(desc)
	if err != nil {
		return errors.Wrap(err, "marshal descriptor")
	}
	key := NodeKeyPrefix + net.Name + "/" + desc.PubkeyEd25519

	var opts []clientv3.OpOption
	if lease != clientv3.NoLease {
		opts = append(opts, clientv3.WithLease(lease))
	}
	if _, err := d.client.Put(ctx, key, string(val), opts...); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	return nil
}

func decodeEntry(prefix string, kv *mvccpb.KeyValue) (snode.NodeEntry, error) {
	var desc snode.Descriptor
	if err := json.Unmarshal(kv.Value, &desc); err != nil {
		return snode.NodeEntry{}, errors.Wrapf(err, "decode %s", kv.Key)
	}
	if desc.PubkeyEd25519 == "" {
		desc.PubkeyEd25519 = strings.TrimPrefix(string(kv.Key), prefix)
	}
	if desc.PubkeyEd25519 == "" {
		return snode.NodeEntry{}, errors.Errorf("record %s has no node key", kv.Key)
	}
	return snode.NodeEntry{ID: desc.ID(), Descriptor: desc}, nil
}
