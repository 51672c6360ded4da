package tools

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Sink receives changes to the set of tools visible to the next decision step.
type Sink interface {
	Add(tool *Tool)
	Remove(names ...string)
}

// ActiveSet is the mutable set of tools exposed to the agent. Search results are
// published into it; Refresh applies the pending set and reports the difference
// to the sink.
type ActiveSet struct {
	mu       sync.Mutex
	registry *Registry
	sink     Sink
	pending  []string
	active   map[string]*Tool
	logger   *slog.Logger
}

// NewActiveSet creates an empty active set backed by registry. sink may be nil.
func NewActiveSet(registry *Registry, sink Sink, logger *slog.Logger) *ActiveSet {
	return &ActiveSet{
		registry: registry,
		sink:     sink,
		active:   make(map[string]*Tool),
		logger:   logger,
	}
}

// Publish replaces the pending selection. Nothing becomes visible until Refresh.
func (a *ActiveSet) Publish(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = slices.Clone(names)
	if a.pending == nil {
		a.pending = []string{}
	}
}

// Refresh makes the last published selection the active set and returns the
// active tool names, sorted. Unknown names are skipped. Without a pending
// publication the active set is left unchanged.
func (a *ActiveSet) Refresh() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked()
}

// Activate publishes names and applies them in one step, so a concurrent Publish
// cannot land between the two. It returns the active tool names, sorted.
func (a *ActiveSet) Activate(names ...string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = slices.Clone(names)
	if a.pending == nil {
		a.pending = []string{}
	}
	return a.refreshLocked()
}

func (a *ActiveSet) refreshLocked() []string {
	if a.pending != nil {
		next := make(map[string]*Tool, len(a.pending))
		for _, name := range a.pending {
			tool, err := a.registry.Get(name)
			if err != nil {
				a.logger.Warn("Skipping unknown tool in active set", "name", name)
				continue
			}
			next[name] = tool
		}
		a.pending = nil

		var removed []string
		for name := range a.active {
			if _, ok := next[name]; !ok {
				removed = append(removed, name)
			}
		}
		var added []*Tool
		for name, tool := range next {
			if _, ok := a.active[name]; !ok {
				added = append(added, tool)
			}
		}
		a.active = next

		if a.sink != nil {
			if len(removed) > 0 {
				slices.Sort(removed)
				a.sink.Remove(removed...)
			}
			slices.SortFunc(added, func(x, y *Tool) int { return strings.Compare(x.Name, y.Name) })
			for _, tool := range added {
				a.sink.Add(tool)
			}
		}

		a.logger.Debug("Refreshed active tools", "active_count", len(next), "added", len(added), "removed", len(removed))
	}

	return a.namesLocked()
}

// Contains reports whether name is in the active set as of the last Refresh.
func (a *ActiveSet) Contains(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[name]
	return ok
}

// Names returns the active tool names, sorted.
func (a *ActiveSet) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.namesLocked()
}

func (a *ActiveSet) namesLocked() []string {
	names := make([]string, 0, len(a.active))
	for name := range a.active {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
