// Package registry implements the process-wide component registry described
// in §2 and §9 of the specification: Server (C11) constructs C1-C10 and C12
// in dependency order and publishes typed references here, one accessor per
// component, instead of the string-keyed service lookup a distributed
// EVE deployment would use. The registry is immutable once Finalize
// succeeds, so HTTP handlers and the SSE dispatcher can read component
// references without taking a lock.
package registry

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"codeintel.dev/adrmanager"
	"codeintel.dev/cache"
	"codeintel.dev/config"
	"codeintel.dev/debuganalyzer"
	"codeintel.dev/docmanager"
	"codeintel.dev/embedding"
	"codeintel.dev/graph"
	"codeintel.dev/knowledgebase"
	"codeintel.dev/taskmanager"
	"codeintel.dev/vectorstore"
)

// StatusChecker is the narrow contract HealthMonitor (C10) needs from every
// registered component.
type StatusChecker interface {
	Status(ctx context.Context) error
}

// Entry is one component's registration: its name, whether it is "critical"
// per §4.10's healthy/degraded/unhealthy aggregation rule, and its status
// checker.
type Entry struct {
	Name     string
	Critical bool
	Checker  StatusChecker
}

// componentGraph is the fixed dependency edge list from §2's composition
// order, used only to check at Finalize that components were registered in
// an order that respects these edges — a hand-maintained Go program can
// drift from the prose table it implements, and this catches that drift at
// startup. It does not check that every component was registered or that
// the typed fields are non-nil.
var componentGraph = []graph.Node{
	{Name: "config"},
	{Name: "embedder", DependsOn: []string{"config"}},
	{Name: "vectorstore", DependsOn: []string{"config"}},
	{Name: "cache", DependsOn: []string{"config"}},
	{Name: "knowledgebase", DependsOn: []string{"embedder", "vectorstore", "cache"}},
	{Name: "adrmanager", DependsOn: []string{"knowledgebase"}},
	{Name: "docmanager", DependsOn: []string{"knowledgebase"}},
	{Name: "debuganalyzer", DependsOn: []string{"knowledgebase"}},
	{Name: "taskmanager", DependsOn: []string{"knowledgebase", "adrmanager", "docmanager", "debuganalyzer"}},
	{Name: "health", DependsOn: []string{"embedder", "vectorstore", "cache", "knowledgebase", "taskmanager"}},
	{Name: "sse", DependsOn: []string{"knowledgebase", "adrmanager", "taskmanager"}},
}

// Registry holds one typed reference per component plus the ordered list of
// status checkers HealthMonitor polls.
type Registry struct {
	Config        *config.Config
	Embedder      *embedding.Embedder
	VectorStore   *vectorstore.VectorStore
	Cache         *cache.Cache
	KnowledgeBase *knowledgebase.KnowledgeBase
	ADRs          *adrmanager.Manager
	Docs          *docmanager.Manager
	Debug         *debuganalyzer.Analyzer
	Tasks         *taskmanager.Manager
	Log           *logrus.Logger

	mu       sync.Mutex
	entries  []Entry
	present  map[string]bool
	final    bool
}

// New constructs an empty Registry. Fields are assigned by the caller
// (cmd/server) in dependency order as each component's Initialize succeeds;
// Register records the order components actually came up in so Finalize can
// validate it against componentGraph.
func New(log *logrus.Logger) *Registry {
	return &Registry{Log: log, present: make(map[string]bool)}
}

// Register records name as initialized, for both the dependency-order check
// and HealthMonitor's poll list. critical marks the component as one of
// §4.10's critical components (C2, C5, C9, C11); all others are
// non-critical for aggregation purposes.
func (r *Registry) Register(name string, critical bool, checker StatusChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Name: name, Critical: critical, Checker: checker})
	r.present[name] = true
}

// Finalize validates that every component Register was called for respects
// componentGraph's dependency edges, then freezes the registry. Graph nodes
// that were never registered (e.g. config, health, sse) are left out of the
// check, so optional components need not run; a registered name that is not
// in componentGraph is rejected as an unknown component.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		order = append(order, e.Name)
	}
	filtered := filterNodes(componentGraph, r.present)
	if err := graph.ValidateOrder(filtered, order); err != nil {
		return err
	}
	r.final = true
	return nil
}

func filterNodes(nodes []graph.Node, present map[string]bool) []graph.Node {
	out := make([]graph.Node, 0, len(nodes))
	for _, n := range nodes {
		if !present[n.Name] {
			continue
		}
		var deps []string
		for _, d := range n.DependsOn {
			if present[d] {
				deps = append(deps, d)
			}
		}
		out = append(out, graph.Node{Name: n.Name, DependsOn: deps})
	}
	return out
}

// Entries returns the registered components in initialization order. Safe
// to call concurrently once Finalize has returned; the slice itself is
// never mutated after Finalize.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Has reports whether a component by that name successfully initialized —
// used by SSETransport (C12) to decide which tools to register, per §4.12's
// "tools whose dependencies are missing are not registered".
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.present[name]
}

// CleanupAll runs Cleanup on every cleaner in reverse registration order,
// collecting (not stopping on) individual failures, per §5's teardown
// discipline: "best-effort cleanup" in reverse init order.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

func (r *Registry) CleanupAll(ctx context.Context, cleaners map[string]Cleaner) []error {
	r.mu.Lock()
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		name := entries[i].Name
		c, ok := cleaners[name]
		if !ok {
			continue
		}
		if err := c.Cleanup(ctx); err != nil {
			r.Log.WithError(err).WithField("component", name).Warn("cleanup failed during shutdown")
			errs = append(errs, err)
		}
	}
	return errs
}
