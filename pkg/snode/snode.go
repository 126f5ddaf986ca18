// Package snode holds the data model shared by the swarmwatch components:
// node identities and descriptors reported by the directory, the statistics a
// node reports about itself, and the online/offline observations derived from
// probing it.
package snode

import (
	"net"
	"strconv"
	"time"
)

// NodeID is a node's long-term ed25519 public key. It is the join key across
// the registry, the status cache and the transition log.
type NodeID string

func (id NodeID) String() string { return string(id) }

// Short returns an abbreviated form for log lines.
func (id NodeID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

// Descriptor is what the directory knows about a node. It is replaced
// wholesale whenever the directory reports a new record for the same id.
type Descriptor struct {
	PublicIP       string `json:"public_ip" yaml:"public_ip"`
	StoragePort    uint16 `json:"storage_port" yaml:"storage_port"`
	StorageLMQPort uint16 `json:"storage_lmq_port" yaml:"storage_lmq_port"`
	PubkeyX25519   string `json:"pubkey_x25519" yaml:"pubkey_x25519"`
	PubkeyEd25519  string `json:"pubkey_ed25519" yaml:"pubkey_ed25519"`
	SwarmID        uint64 `json:"swarm_id" yaml:"swarm_id"`
}

// ID returns the identity the descriptor is keyed by.
func (d Descriptor) ID() NodeID { return NodeID(d.PubkeyEd25519) }

// Addr returns host:port of the node's storage server.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.PublicIP, strconv.FormatUint(uint64(d.StoragePort), 10))
}

func (d Descriptor) String() string { return d.Addr() }

// NodeEntry pairs an identity with the descriptor it resolved to.
type NodeEntry struct {
	ID         NodeID
	Descriptor Descriptor
}

// OnlineStatus is the result of probing a node. The numeric values are the
// persisted encoding.
type OnlineStatus uint8

const (
	Online OnlineStatus = iota
	Offline
)

func (s OnlineStatus) String() string {
	switch s {
	case Online:
		return "ONLINE"
	case Offline:
		return "OFFLINE"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
}

// StatusFromCode decodes a persisted status. Anything but 0 reads as offline.
func StatusFromCode(code int64) OnlineStatus {
	if code == int64(Online) {
		return Online
	}
	return Offline
}

// TimestampedStatus is the latest observation held for a node.
type TimestampedStatus struct {
	Status    OnlineStatus
	Timestamp time.Time
}

// Stats is the snapshot a node reports on its stats endpoint. A new snapshot
// always replaces the previous one.
type Stats struct {
	Height                         uint64 `json:"height"`
	Version                        string `json:"version"`
	ResetTime                      uint64 `json:"reset_time"`
	TotalStored                    uint64 `json:"total_stored"`
	ConnectionsIn                  uint32 `json:"connections_in"`
	PreviousPeriodStoreRequests    uint32 `json:"previous_period_store_requests"`
	PreviousPeriodRetrieveRequests uint32 `json:"previous_period_retrieve_requests"`
}

// Transition is a persisted change of a node's observed status.
type Transition struct {
	NodeID    NodeID
	Timestamp time.Time
	Status    OnlineStatus
}
