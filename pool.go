package hive_mr3

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seoyhaein/utils"
)

// ExecService manages a bounded pool of goroutines that drive task attempts
// on this worker node.  Attempts are submitted via Submit; AbortTask
// forwards a cancellation to an in-flight attempt by id; Close drains the
// queue and waits for all workers.
type ExecService struct {
	workerLimit int
	taskQueue   chan func()
	wg          sync.WaitGroup
	closeOnce   sync.Once // prevents double-close panic on taskQueue

	mu          sync.Mutex
	controllers map[string]*TaskController

	attemptsCompleted prometheus.Counter
	attemptsFailed    prometheus.Counter
	attemptsCancelled prometheus.Counter
}

// NewExecService creates an exec service with the given worker limit.  The
// outcome counters are registered with reg; pass nil to keep them in a
// private registry.
func NewExecService(limit int, reg prometheus.Registerer) *ExecService {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &ExecService{
		workerLimit: limit,
		taskQueue:   make(chan func(), limit*2),
		controllers: make(map[string]*TaskController),
		attemptsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_mr3_attempts_completed_total",
			Help: "Task attempts that finished on the pure completed path.",
		}),
		attemptsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_mr3_attempts_failed_total",
			Help: "Task attempts that ended with a recoverable or fatal failure.",
		}),
		attemptsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_mr3_attempts_cancelled_total",
			Help: "Task attempts that ended cancelled, before or after start.",
		}),
	}
	reg.MustRegister(s.attemptsCompleted, s.attemptsFailed, s.attemptsCancelled)

	for i := 0; i < limit; i++ { //nolint:intrange
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for task := range s.taskQueue {
				task()
			}
		}()
	}

	return s
}

// Submit queues tc's attempt for execution.  The controller stays reachable
// through AbortTask until the attempt resolves.
func (s *ExecService) Submit(tc *TaskController, inputs map[string]LogicalInput, outputs map[string]LogicalOutput) {
	attemptID := tc.AttemptID()
	s.mu.Lock()
	s.controllers[attemptID] = tc
	s.mu.Unlock()

	s.taskQueue <- func() {
		err := tc.Run(inputs, outputs)
		s.recordOutcome(tc, err)

		s.mu.Lock()
		delete(s.controllers, attemptID)
		s.mu.Unlock()
	}
}

// AbortTask forwards a cancellation to the in-flight attempt with the given
// id.  Returns false when the attempt is unknown or already resolved.
func (s *ExecService) AbortTask(attemptID string) bool {
	if utils.IsEmptyString(attemptID) {
		return false
	}
	s.mu.Lock()
	tc := s.controllers[attemptID]
	s.mu.Unlock()

	if tc == nil {
		Log.WithField("attempt", attemptID).Info("abort requested for unknown or resolved attempt")
		return false
	}
	tc.Abort()
	return true
}

// Close drains the queue and waits for the workers.  Safe to call twice.
func (s *ExecService) Close() {
	s.closeOnce.Do(func() { close(s.taskQueue) })
	s.wg.Wait()
}

func (s *ExecService) recordOutcome(tc *TaskController, err error) {
	outcome := tc.Outcome()
	switch outcome.Class() {
	case OutcomeCompleted:
		s.attemptsCompleted.Inc()
	case OutcomeCancelled, OutcomeCancelledBeforeStart:
		s.attemptsCancelled.Inc()
	case OutcomeRecoverableFailure, OutcomeFatalFailure:
		s.attemptsFailed.Inc()
	default:
		// Run was rejected before the attempt started (e.g. double submit).
		if err != nil {
			Log.WithError(err).WithField("attempt", tc.AttemptID()).Warn("attempt did not resolve")
		}
	}
}
