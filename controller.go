package hive_mr3

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/chaulota/hive-mr3/debugonly"
)

// AttemptState represents the lifecycle state of a task attempt.
type AttemptState int

// AttemptIdle through AttemptCancelledBeforeStart are the lifecycle states
// of an attempt.  Every terminal state except AttemptCompleted and
// AttemptCancelledBeforeStart has triggered the cleanup side effect.
const (
	AttemptIdle AttemptState = iota
	AttemptCreating
	AttemptRunning
	AttemptCompleted
	AttemptRecoverablyFailed
	AttemptFatallyFailed
	AttemptCancelled
	AttemptCancelledBeforeStart
)

func (s AttemptState) String() string {
	switch s {
	case AttemptIdle:
		return "idle"
	case AttemptCreating:
		return "creating"
	case AttemptRunning:
		return "running"
	case AttemptCompleted:
		return "completed"
	case AttemptRecoverablyFailed:
		return "recoverably-failed"
	case AttemptFatallyFailed:
		return "fatally-failed"
	case AttemptCancelled:
		return "cancelled"
	case AttemptCancelledBeforeStart:
		return "cancelled-before-start"
	default:
		return "unknown"
	}
}

// isValidAttemptTransition reports whether the from→to edge exists in the
// attempt state machine.
//
// Valid transitions:
//
//	Idle     → Creating | CancelledBeforeStart
//	Creating → Running  | CancelledBeforeStart
//	Running  → Completed | RecoverablyFailed | FatallyFailed | Cancelled
//	terminal states have no outgoing transitions
func isValidAttemptTransition(from, to AttemptState) bool {
	switch from {
	case AttemptIdle:
		return to == AttemptCreating || to == AttemptCancelledBeforeStart
	case AttemptCreating:
		return to == AttemptRunning || to == AttemptCancelledBeforeStart
	case AttemptRunning:
		return to == AttemptCompleted || to == AttemptRecoverablyFailed ||
			to == AttemptFatallyFailed || to == AttemptCancelled
	default:
		return false
	}
}

// Event is an out-of-band scheduling event from the host runtime.  The
// controller does not consume events; the type exists for the framework
// interface.
type Event struct {
	SourceVertex string
	Payload      any
}

// Collaborators bundles the process-wide registries an attempt touches.
// They are injected explicitly at construction; the controller never
// discovers collaborators through ambient lookups.
type Collaborators struct {
	Objects     *ObjectRegistry
	Work        *WorkRegistry
	Fragments   *FragmentCounterRegistry
	QueryCaches *QueryCacheFactory
	Hooks       *ShutdownHookRegistry
}

// fillDefaults replaces nil collaborators with fresh instances so unit tests
// can inject only what they observe.
func (c Collaborators) fillDefaults() Collaborators {
	if c.Objects == nil {
		c.Objects = NewObjectRegistry()
	}
	if c.Work == nil {
		c.Work = NewWorkRegistry()
	}
	if c.Fragments == nil {
		c.Fragments = NewFragmentCounterRegistry()
	}
	if c.QueryCaches == nil {
		c.QueryCaches = NewQueryCacheFactory()
	}
	if c.Hooks == nil {
		c.Hooks = NewShutdownHookRegistry()
	}
	return c
}

// ControllerOption is a functional-option type for NewTaskController.
type ControllerOption func(*TaskController)

// WithProcessorFactory overrides the record-processor factory.  The factory
// runs inside the creation critical section and must not block.
func WithProcessorFactory(f ProcessorFactory) ControllerOption {
	return func(c *TaskController) {
		c.factory = f
	}
}

// WithReporter overrides the Reporter handed to the record processor.
func WithReporter(r Reporter) ControllerOption {
	return func(c *TaskController) {
		c.reporter = r
	}
}

// TaskController drives one task attempt through the lifecycle
// Initialize → Run → (Close), while a different goroutine may deliver Abort
// at any point in the attempt's life.
//
// The controller owns the single cancellation flag and the at-most-one live
// record-processor handle.  The mutex guards only the check-and-create and
// check-and-capture operations on that handle — never the long-running
// processing call — so an aborting goroutine is never starved.
//
// A TaskController must always be handled as a pointer and drives exactly
// one attempt; a second Run is rejected.
type TaskController struct {
	conf   *Config
	id     TaskIdentity
	collab Collaborators

	// aborted is the sole source of truth for "has this attempt been
	// cancelled".  Read-and-set via Swap resolves the races between Abort,
	// processor creation, and post-run completion.
	aborted atomic.Bool

	// mu guards rproc creation and capture, shared between Run and Abort.
	// No blocking work may happen while it is held.
	mu    sync.Mutex
	rproc RecordProcessor

	stateMu sync.Mutex // guards state and outcome
	state   AttemptState
	outcome Outcome

	factory  ProcessorFactory
	reporter Reporter
	counters *CounterGroup

	initialized bool
}

// NewTaskController returns a controller for one attempt.  Nil collaborators
// are replaced with fresh registries.
func NewTaskController(conf *Config, id TaskIdentity, collab Collaborators, opts ...ControllerOption) *TaskController {
	c := &TaskController{
		conf:     conf,
		id:       id,
		collab:   collab.fillDefaults(),
		state:    AttemptIdle,
		factory:  DefaultProcessorFactory,
		counters: NewCounterGroup(id.TaskAttemptID()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = NewLogReporter(id.TaskAttemptID(), c.counters)
	}
	return c
}

// Initialize derives the legacy settings from the task identity and
// registers the shutdown hook that evicts this query's scoped cache when the
// DAG is torn down.  Idempotent; called at most once per attempt by the
// host runtime.
func (c *TaskController) Initialize() error {
	if c.conf == nil {
		return fmt.Errorf("attempt %s: controller has no config", c.id.TaskAttemptID())
	}
	if c.initialized {
		return nil
	}
	c.initialized = true

	c.id.ApplyLegacyKeys(c.conf)

	queryID := c.conf.QueryID
	if queryID == "" {
		queryID = c.id.QueryID
	}
	c.collab.Hooks.RegisterHook(c.id.DAGIndex, func() {
		c.collab.QueryCaches.RemoveQueryCache(queryID)
	})
	return nil
}

// Conf returns the derived task configuration for diagnostic use.
func (c *TaskController) Conf() *Config { return c.conf }

// AttemptID returns the attempt's legacy textual identifier.
func (c *TaskController) AttemptID() string { return c.id.TaskAttemptID() }

// State returns the attempt's current lifecycle state.
func (c *TaskController) State() AttemptState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Outcome returns the attempt's terminal envelope.  Before the attempt
// resolves, the zero Outcome (class OutcomeUnresolved) is returned.
func (c *TaskController) Outcome() Outcome {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.outcome
}

// transition atomically advances the attempt state from `from` to `to`,
// rejecting edges the state machine does not permit.
func (c *TaskController) transition(from, to AttemptState) bool {
	if !isValidAttemptTransition(from, to) {
		return false
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *TaskController) resolve(to AttemptState, o Outcome) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if isValidAttemptTransition(c.state, to) {
		c.state = to
	}
	c.outcome = o
}

func (c *TaskController) setOutcome(o Outcome) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.outcome = o
}

// Close is intentionally a no-op.  The host runtime closes inputs before
// calling this hook, and the pipeline flush inside Run may still need to
// read them, so all cleanup happens inside Run's orchestration instead.
func (c *TaskController) Close() error {
	return nil
}

// HandleEvents is a no-op; the host runtime does not deliver events to this
// controller.
func (c *TaskController) HandleEvents(_ []Event) {}

// Run drives the attempt: it creates the record processor for the attempt's
// role and delegates to the orchestration routine.  Called exactly once by
// the host runtime.
//
// Run returns nil on the pure completed path and on an abort delivered
// before the processor was created (nothing ran, nothing to clean).  Every
// other terminal state surfaces as an error.
func (c *TaskController) Run(inputs map[string]LogicalInput, outputs map[string]LogicalOutput) error {
	// Fast path: cancellation delivered before scheduling started the
	// attempt.  No processor is ever constructed.  The orchestration routine
	// leaves the flag set after every attempt, so the state transition also
	// distinguishes a genuine pre-start abort from a second Run call.
	if c.aborted.Load() {
		if !c.transition(AttemptIdle, AttemptCancelledBeforeStart) {
			return ErrRunAlreadyCalled
		}
		c.setOutcome(CancelledBeforeStartOutcome())
		Log.WithField("attempt", c.AttemptID()).Info("abort received before the record processor was created")
		return nil
	}

	if !c.transition(AttemptIdle, AttemptCreating) {
		return ErrRunAlreadyCalled
	}

	Log.WithField("attempt", c.AttemptID()).Debug("running task attempt")

	c.mu.Lock()
	// Re-check under the lock shared with Abort: the flag may have flipped
	// while this goroutine waited for the critical section.
	if c.aborted.Load() {
		c.mu.Unlock()
		c.resolve(AttemptCancelledBeforeStart, CancelledBeforeStartOutcome())
		return nil
	}
	// Only construction happens here.  Any blocking work inside this
	// section would starve a concurrent Abort, which synchronizes on the
	// same lock.
	debugonly.BreakHere()
	c.rproc = c.factory(c.conf, c.id)
	c.mu.Unlock()

	if c.aborted.Load() {
		// Abort captured the handle and forwarded cancellation; the
		// processor never ran, so there is nothing to clean.
		c.resolve(AttemptCancelledBeforeStart, CancelledBeforeStartOutcome())
		return nil
	}

	c.transition(AttemptCreating, AttemptRunning)
	return c.initializeAndRunProcessor(inputs, outputs)
}

// Abort may be called from a different goroutine at any point in the
// attempt's life, any number of times.  It never returns an error: failures
// in the processor's own abort handling are logged, because the aborting
// goroutine cannot receive a result tied to the attempt outcome.
//
// Cleanup never happens here — the aborting goroutine is not the one that
// owns the thread-bound caches.  The orchestration routine observes the flag
// and cleans up on the driving goroutine instead.
func (c *TaskController) Abort() {
	var rprocLocal RecordProcessor
	c.mu.Lock()
	Log.WithField("attempt", c.AttemptID()).Info("received abort")
	prevAborted := c.aborted.Swap(true)
	if !prevAborted {
		rprocLocal = c.rproc
	}
	c.mu.Unlock()

	if rprocLocal == nil {
		Log.WithField("attempt", c.AttemptID()).Info("record processor not yet set up or already completed, abort ignored")
		return
	}

	// Forward outside the critical section: the processor's abort handling
	// may be slow and must never block a concurrent Run waiting to create
	// the processor.
	Log.WithField("attempt", c.AttemptID()).Info("forwarding abort to record processor")
	defer func() {
		if r := recover(); r != nil {
			Log.WithField("attempt", c.AttemptID()).Warnf("record processor abort panicked: %v", r)
		}
	}()
	rprocLocal.Abort()
}

// initializeAndRunProcessor is the exactly-once-cleanup protocol: it drives
// the processor through init → run → close, resolves the attempt's terminal
// outcome, and guarantees that the thread-bound caches are wiped exactly
// once whenever the outcome is not plain Completed.
func (c *TaskController) initializeAndRunProcessor(inputs map[string]LogicalInput, outputs map[string]LogicalOutput) error {
	var originalErr error

	fragmentAccounting := c.id.Role == RoleMap &&
		c.conf.ExecutionMode == ModeLLAP && c.conf.FragmentAccounting
	var fragmentKey string
	if fragmentAccounting {
		c.conf.Set(KeyTezTaskAttemptID, c.AttemptID())
		fragmentKey = c.id.FragmentKey()
		c.collab.Fragments.Register(fragmentKey, c.counters)
	}

	originalErr = c.initAndRun(inputs, outputs)

	if originalErr != nil && IsFatal(originalErr) {
		// The processor's internal state cannot be trusted after a fatal
		// fault: skip close, wipe the caches, and terminate the attempt.
		// The normal unregister step below is bypassed, so the fragment key
		// is released here.
		Log.WithField("attempt", c.AttemptID()).WithError(originalErr).Error("fatal runtime fault")
		c.cleanup()
		if fragmentAccounting {
			c.collab.Fragments.Unregister(fragmentKey)
		}
		c.resolve(AttemptFatallyFailed, FatalOutcome(originalErr))
		return &AttemptError{AttemptID: c.AttemptID(), Phase: "run", Err: originalErr}
	}

	if closeErr := c.closeProcessor(); closeErr != nil && originalErr == nil {
		originalErr = closeErr
	}

	if fragmentAccounting {
		c.collab.Fragments.Unregister(fragmentKey)
	}

	// Read-and-set the cancellation flag a second time.  Two effects:
	// 1. From now on Abort is observed as "already aborted" and is never
	//    forwarded, so a late abort cannot corrupt the thread-bound caches.
	// 2. If the flag was already set, an abort raced with this attempt's
	//    completion.  Even a run that returned cleanly must then surface as
	//    a failure and trigger cleanup, because the processor's abort
	//    handler may have left shared state partially mutated.
	prevAborted := c.aborted.Swap(true)
	if prevAborted && originalErr == nil {
		originalErr = fmt.Errorf("%w: record processor returned successfully", ErrAborted)
	}

	if originalErr != nil {
		Log.WithField("attempt", c.AttemptID()).WithError(originalErr).Error("task attempt failed")
		c.cleanup()
		if isCancellationClass(originalErr) {
			c.resolve(AttemptCancelled, CancelledOutcome(originalErr))
		} else {
			c.resolve(AttemptRecoverablyFailed, FailedOutcome(originalErr))
		}
		return &AttemptError{AttemptID: c.AttemptID(), Phase: "run", Err: originalErr}
	}

	c.resolve(AttemptCompleted, CompletedOutcome())
	Log.WithField("attempt", c.AttemptID()).Debug("task attempt completed")
	return nil
}

// initAndRun calls the processor's Init and Run.  Both are potentially long,
// blocking operations and must handle the abort call on their own; holding
// c.mu across them would block Abort on a monitor that does not belong to
// the cancellation path.  A panic from either classifies as a fatal fault.
func (c *TaskController) initAndRun(inputs map[string]LogicalInput, outputs map[string]LogicalOutput) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Err: fmt.Errorf("panic: %v, stacktrace: %s", r, debug.Stack())}
		}
	}()

	if err := c.rproc.Init(c.reporter, inputs, outputs); err != nil {
		return err
	}
	return c.rproc.Run()
}

// closeProcessor closes the processor, converting a close panic into an
// ordinary error.  Close errors become the attempt's failure cause only when
// init/run did not already produce one.
func (c *TaskController) closeProcessor() (err error) {
	if c.rproc == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in record processor close: %v", r)
		}
	}()
	return c.rproc.Close()
}

// cleanup wipes the process-wide thread-bound state a failed attempt may
// have left behind, so the next attempt on this worker never observes a
// corrupted plan.  Reached from exactly one branch per attempt.
func (c *TaskController) cleanup() {
	c.collab.Objects.Clear()
	c.collab.Work.ClearWork(c.conf)
	Log.WithField("attempt", c.AttemptID()).Info("cleared object registry and work context")
}
