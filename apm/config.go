package apm

import "github.com/evergreen-ci/utility"

// MonitorConfig filters what a Monitor tracks. Empty lists match
// everything. With PopulateEvents set, every combination of the listed
// indices and operations starts each window with zeroed counters.
type MonitorConfig struct {
	PopulateEvents bool     `json:"populate_events" yaml:"populate_events"`
	Backends       []string `json:"backends" yaml:"backends"`
	Indices        []string `json:"indices" yaml:"indices"`
	Operations     []string `json:"operations" yaml:"operations"`
}

func (c *MonitorConfig) shouldTrack(e EventKey) bool {
	if c == nil {
		return true
	}

	if len(c.Backends) > 0 && !utility.StringSliceContains(c.Backends, e.Backend) {
		return false
	}

	if len(c.Indices) > 0 && !utility.StringSliceContains(c.Indices, e.Index) {
		return false
	}

	if len(c.Operations) > 0 && !utility.StringSliceContains(c.Operations, e.Operation) {
		return false
	}

	return true
}

func (c *MonitorConfig) window() map[EventKey]*eventRecord {
	out := make(map[EventKey]*eventRecord)
	if c == nil {
		return out
	}

	if !c.PopulateEvents {
		return out
	}

	backends := c.Backends
	if len(backends) == 0 {
		backends = []string{""}
	}
	for _, backend := range backends {
		for _, index := range c.Indices {
			for _, op := range c.Operations {
				out[EventKey{Backend: backend, Index: index, Operation: op}] = &eventRecord{}
			}
		}
	}

	return out
}
