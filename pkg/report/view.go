// Package report joins the registry with the status cache into the view
// served to callers.
package report

import (
	"sort"
	"strconv"

	"github.com/ryandielhenn/swarmwatch/pkg/snode"
	"github.com/ryandielhenn/swarmwatch/pkg/statuscache"
)

// Members is the membership side of the join. Implemented by
// *registry.Registry.
type Members interface {
	Snapshot() map[snode.NodeID]snode.Descriptor
}

// Observations is the liveness side of the join. Implemented by
// *statuscache.Cache.
type Observations interface {
	Snapshot() statuscache.Snapshot
}

// NodeView is one node of the current view. Stats is nil until the node has
// answered a probe.
type NodeView struct {
	Descriptor snode.Descriptor
	Online     bool
	Stats      *snode.Stats
}

// CurrentView returns every registry member with its cached status and stats.
// The registry decides membership; a node absent from the cache is reported
// offline.
func CurrentView(m Members, o Observations) map[snode.NodeID]NodeView {
	nodes := m.Snapshot()
	obs := o.Snapshot()

	view := make(map[snode.NodeID]NodeView, len(nodes))
	for id, d := range nodes {
		v := NodeView{Descriptor: d}
		if st, ok := obs.Status[id]; ok {
			v.Online = st.Status == snode.Online
		}
		if s, ok := obs.Stats[id]; ok {
			s := s
			v.Stats = &s
		}
		view[id] = v
	}
	return view
}

// NodeResponse is the per-node record of the /get_status payload.
type NodeResponse struct {
	EdKey            string `json:"edkey"`
	Version          string `json:"version"`
	TotalStored      int64  `json:"total_stored"`
	Online           bool   `json:"online"`
	ConnectionsIn    uint32 `json:"connections_in"`
	StoreRequests    uint32 `json:"store_requests"`    // previous hour-long period
	RetrieveRequests uint32 `json:"retrieve_requests"` // previous hour-long period
}

func nodeResponse(id snode.NodeID, v NodeView) NodeResponse {
	r := NodeResponse{
		EdKey:       id.String(),
		Version:     "?",
		TotalStored: -1,
		Online:      v.Online,
	}
	if v.Stats != nil {
		r.Version = v.Stats.Version
		r.TotalStored = int64(v.Stats.TotalStored)
		r.ConnectionsIn = v.Stats.ConnectionsIn
		r.StoreRequests = v.Stats.PreviousPeriodStoreRequests
		r.RetrieveRequests = v.Stats.PreviousPeriodRetrieveRequests
	}
	return r
}

// BySwarm groups the view by swarm id, nodes sorted by key within a swarm.
func BySwarm(view map[snode.NodeID]NodeView) map[string][]NodeResponse {
	out := make(map[string][]NodeResponse)
	for id, v := range view {
		swarm := strconv.FormatUint(v.Descriptor.SwarmID, 10)
		out[swarm] = append(out[swarm], nodeResponse(id, v))
	}
	for _, nodes := range out {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].EdKey < nodes[j].EdKey })
	}
	return out
}

// Flat lists the view sorted by key.
func Flat(view map[snode.NodeID]NodeView) []NodeResponse {
	out := make([]NodeResponse, 0, len(view))
	for id, v := range view {
		out = append(out, nodeResponse(id, v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdKey < out[j].EdKey })
	return out
}

type Summary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
	Swarms  int `json:"swarms"`
}

func Summarize(view map[snode.NodeID]NodeView) Summary {
	s := Summary{Total: len(view)}
	swarms := make(map[uint64]struct{})
	for _, v := range view {
		if v.Online {
			s.Online++
		}
		swarms[v.Descriptor.SwarmID] = struct{}{}
	}
	s.Offline = s.Total - s.Online
	s.Swarms = len(swarms)
	return s
}
