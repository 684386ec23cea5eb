package hive_mr3

// RecordProcessor is the pluggable strategy (map-side or reduce-side) that
// performs the actual data transformation for an attempt.  The controller
// drives it through Init → Run → Close and may deliver Abort from a
// different goroutine at any point in between.
//
// Contract:
//   - Init must be fast-failing and side-effect-free on failure.
//   - Run performs the processing loop and may take arbitrarily long.
//   - Abort must be idempotent and safe to call concurrently with Run; it
//     should cause an in-progress Run to return ErrProcessorAborted promptly
//     when feasible.  This is best-effort: the controller re-checks its own
//     cancellation flag after Run returns, precisely because a processor may
//     finish cleanly despite a concurrent abort.
//   - Close releases resources and must be safe after a partial Init/Run
//     failure.  The controller skips Close entirely for fatal faults.
type RecordProcessor interface {
	Init(reporter Reporter, inputs map[string]LogicalInput, outputs map[string]LogicalOutput) error
	Run() error
	Abort()
	Close() error
}

// Reporter is the progress/counter sink handed to a record processor.
type Reporter interface {
	Progress(fraction float64)
	Counters() *CounterGroup
}

// logReporter is the default Reporter: progress goes to the package logger,
// counters to the attempt's CounterGroup.
type logReporter struct {
	attemptID string
	counters  *CounterGroup
}

// NewLogReporter returns a Reporter writing progress through Log.
func NewLogReporter(attemptID string, counters *CounterGroup) Reporter {
	return &logReporter{attemptID: attemptID, counters: counters}
}

func (r *logReporter) Progress(fraction float64) {
	Log.WithField("attempt", r.attemptID).Debugf("progress %.2f", fraction)
}

func (r *logReporter) Counters() *CounterGroup {
	return r.counters
}

// ProcessorFactory constructs the record-processor variant for an attempt.
// The controller invokes it inside the creation critical section, so a
// factory must never block.
type ProcessorFactory func(conf *Config, id TaskIdentity) RecordProcessor

// DefaultProcessorFactory selects the map-side or reduce-side variant by the
// attempt's role, with identity transform functions.
func DefaultProcessorFactory(conf *Config, id TaskIdentity) RecordProcessor {
	if id.Role == RoleMap {
		return NewMapRecordProcessor(conf, id, IdentityMapFn)
	}
	return NewReduceRecordProcessor(conf, id, FirstValueReduceFn)
}

// MapFn transforms one record on the map side.
type MapFn func(key, value any) (any, any, error)

// ReduceFn folds the values collected under one key on the reduce side.
type ReduceFn func(key any, values []any) (any, error)

// IdentityMapFn passes records through unchanged.
func IdentityMapFn(key, value any) (any, any, error) {
	return key, value, nil
}

// FirstValueReduceFn keeps the first value seen for each key.
func FirstValueReduceFn(_ any, values []any) (any, error) {
	return values[0], nil
}
