package hive_mr3

import (
	"sync"
)

// ObjectRegistry is the process-wide cache of thread-bound artifacts (query
// plans, hash tables, codecs) shared across attempts run on the same worker
// over time.  The controller wipes it whenever an attempt ends abnormally so
// a later attempt never observes state left behind by a corrupted
// predecessor.
type ObjectRegistry struct {
	mu      sync.Mutex
	objects map[string]any
	clears  int
}

// NewObjectRegistry returns an empty registry.
func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{objects: make(map[string]any)}
}

// Cache stores value under key, replacing any previous entry.
func (r *ObjectRegistry) Cache(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = value
}

// Retrieve returns the cached value for key.
func (r *ObjectRegistry) Retrieve(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.objects[key]
	return v, ok
}

// Clear invalidates every cached artifact.
func (r *ObjectRegistry) Clear() {
	r.mu.Lock()
	dropped := len(r.objects)
	r.objects = make(map[string]any)
	r.clears++
	r.mu.Unlock()

	Log.WithField("dropped", dropped).Info("cleared object registry")
}

// ClearCount returns how many times Clear has run.
func (r *ObjectRegistry) ClearCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

// Len returns the number of cached entries.
func (r *ObjectRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// WorkRegistry holds the thread-bound execution-plan state for in-flight
// attempts, keyed by the legacy task id stored in the Config.  Like the
// ObjectRegistry it is process-wide and must be cleared on failure paths.
type WorkRegistry struct {
	mu   sync.Mutex
	work map[string]any
}

// NewWorkRegistry returns an empty registry.
func NewWorkRegistry() *WorkRegistry {
	return &WorkRegistry{work: make(map[string]any)}
}

// SetWork stores the execution plan for the attempt identified by conf.
func (r *WorkRegistry) SetWork(conf *Config, plan any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.work[conf.Get(KeyTaskID)] = plan
}

// Work returns the execution plan stored for the attempt identified by conf.
func (r *WorkRegistry) Work(conf *Config) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.work[conf.Get(KeyTaskID)]
	return v, ok
}

// ClearWork drops the execution-plan state for the attempt identified by
// conf.  Safe to call when nothing was stored.
func (r *WorkRegistry) ClearWork(conf *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.work, conf.Get(KeyTaskID))
}

// QueryCacheFactory hands out query-scoped object registries.  Entries live
// until the query's shutdown hook evicts them via RemoveQueryCache.
type QueryCacheFactory struct {
	mu     sync.Mutex
	caches map[string]*ObjectRegistry
}

// NewQueryCacheFactory returns an empty factory.
func NewQueryCacheFactory() *QueryCacheFactory {
	return &QueryCacheFactory{caches: make(map[string]*ObjectRegistry)}
}

// QueryCache returns the registry for queryID, creating it on first use.
func (f *QueryCacheFactory) QueryCache(queryID string) *ObjectRegistry {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.caches[queryID]
	if !ok {
		c = NewObjectRegistry()
		f.caches[queryID] = c
	}
	return c
}

// RemoveQueryCache evicts the registry for queryID.
func (f *QueryCacheFactory) RemoveQueryCache(queryID string) {
	f.mu.Lock()
	_, ok := f.caches[queryID]
	delete(f.caches, queryID)
	f.mu.Unlock()

	if ok {
		Log.WithField("query_id", queryID).Info("removed query-scoped cache")
	}
}

// HasQueryCache reports whether a registry exists for queryID.
func (f *QueryCacheFactory) HasQueryCache(queryID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.caches[queryID]
	return ok
}

// ShutdownHookRegistry collects the per-DAG shutdown hooks the host runtime
// fires when a DAG finishes or is torn down.
type ShutdownHookRegistry struct {
	mu    sync.Mutex
	hooks map[int][]func()
}

// NewShutdownHookRegistry returns an empty registry.
func NewShutdownHookRegistry() *ShutdownHookRegistry {
	return &ShutdownHookRegistry{hooks: make(map[int][]func())}
}

// RegisterHook appends fn to the hooks for dagID.
func (r *ShutdownHookRegistry) RegisterHook(dagID int, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[dagID] = append(r.hooks[dagID], fn)
}

// HookCount returns the number of hooks registered for dagID.
func (r *ShutdownHookRegistry) HookCount(dagID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks[dagID])
}

// RunHooks fires and removes every hook registered for dagID.  Hooks run
// outside the registry lock so a slow hook cannot block registration.
func (r *ShutdownHookRegistry) RunHooks(dagID int) {
	r.mu.Lock()
	hooks := r.hooks[dagID]
	delete(r.hooks, dagID)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
