package hive_mr3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// recordStreamBuffer is the buffer size of the map-side record stream.
const recordStreamBuffer = 64

// MapRecordProcessor is the map-side RecordProcessor variant.  It fans in
// records from every logical input through a SafeChannel stream and pushes
// each one through the map function into the output collectors.
type MapRecordProcessor struct {
	conf  *Config
	id    TaskIdentity
	mapFn MapFn

	reporter   Reporter
	inputs     map[string]LogicalInput
	collectors []*KVOutputCollector

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMapRecordProcessor returns a map-side processor applying mapFn.
func NewMapRecordProcessor(conf *Config, id TaskIdentity, mapFn MapFn) *MapRecordProcessor {
	return &MapRecordProcessor{conf: conf, id: id, mapFn: mapFn, stop: make(chan struct{})}
}

// Init binds the output writers.  All validation happens before any receiver
// state is touched, so a failed Init leaves the processor untouched.
func (p *MapRecordProcessor) Init(reporter Reporter, inputs map[string]LogicalInput, outputs map[string]LogicalOutput) error {
	if len(inputs) == 0 {
		return errors.New("map processor requires at least one logical input")
	}
	collectors, err := bindCollectors(outputs)
	if err != nil {
		return err
	}
	p.reporter = reporter
	p.inputs = inputs
	p.collectors = collectors
	return nil
}

// Run drains every input into the record stream and maps each record into
// the collectors.  A concurrent Abort cancels the readers and makes Run
// return ErrProcessorAborted.
func (p *MapRecordProcessor) Run() error {
	if p.collectors == nil {
		return errors.New("map processor not initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	stream := NewSafeChannel[KV](recordStreamBuffer)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, in := range p.inputs {
		input := in
		eg.Go(func() error {
			r, err := input.Reader()
			if err != nil {
				return err
			}
			for {
				ok, err := r.Next()
				if err != nil {
					return fmt.Errorf("input %q: %w", input.Name(), err)
				}
				if !ok {
					return nil
				}
				if !stream.SendBlocking(egCtx, KV{Key: r.Key(), Value: r.Value()}) {
					return egCtx.Err()
				}
			}
		})
	}

	// The stream is closed only after every reader has returned, so the
	// processing loop below never misses a record on the success path.
	readErr := make(chan error, 1)
	go func() {
		err := eg.Wait()
		_ = stream.Close()
		readErr <- err
	}()

	var procErr error
	for kv := range stream.GetChannel() {
		if p.aborted() {
			break
		}
		p.reporter.Counters().RecordsRead.Inc()
		outKey, outVal, err := p.mapFn(kv.Key, kv.Value)
		if err != nil {
			p.reporter.Counters().ProcessingErrors.Inc()
			procErr = err
			break
		}
		if err := collectAll(p.collectors, outKey, outVal); err != nil {
			procErr = err
			break
		}
		p.reporter.Counters().RecordsWritten.Inc()
	}
	cancel()
	waitErr := <-readErr

	if p.aborted() {
		return ErrProcessorAborted
	}
	if procErr != nil {
		return procErr
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	p.reporter.Progress(1.0)
	return nil
}

// Abort requests the processing loop to stop.  Idempotent and safe to call
// concurrently with Run from a different goroutine.
func (p *MapRecordProcessor) Abort() {
	p.stopOnce.Do(func() {
		close(p.stop)
		Log.WithField("attempt", p.id.TaskAttemptID()).Info("map processor abort requested")
	})
}

// Close releases the processor's handles.  Safe after a partial Init or Run
// failure.
func (p *MapRecordProcessor) Close() error {
	p.collectors = nil
	p.inputs = nil
	return nil
}

func (p *MapRecordProcessor) aborted() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// ReduceRecordProcessor is the reduce-side RecordProcessor variant.  It
// groups values by key across all inputs, then folds each group through the
// reduce function.  Keys must be comparable.
type ReduceRecordProcessor struct {
	conf     *Config
	id       TaskIdentity
	reduceFn ReduceFn

	reporter   Reporter
	inputs     map[string]LogicalInput
	collectors []*KVOutputCollector

	stop     chan struct{}
	stopOnce sync.Once
}

// NewReduceRecordProcessor returns a reduce-side processor applying reduceFn.
func NewReduceRecordProcessor(conf *Config, id TaskIdentity, reduceFn ReduceFn) *ReduceRecordProcessor {
	return &ReduceRecordProcessor{conf: conf, id: id, reduceFn: reduceFn, stop: make(chan struct{})}
}

// Init binds the output writers; side-effect-free on failure.
func (p *ReduceRecordProcessor) Init(reporter Reporter, inputs map[string]LogicalInput, outputs map[string]LogicalOutput) error {
	if len(inputs) == 0 {
		return errors.New("reduce processor requires at least one logical input")
	}
	collectors, err := bindCollectors(outputs)
	if err != nil {
		return err
	}
	p.reporter = reporter
	p.inputs = inputs
	p.collectors = collectors
	return nil
}

// Run accumulates the groups, then reduces and emits them in order of first
// appearance.  Abort is honoured between records and between groups.
func (p *ReduceRecordProcessor) Run() error {
	if p.collectors == nil {
		return errors.New("reduce processor not initialized")
	}

	groups := make(map[any][]any)
	var order []any
	for _, name := range sortedInputNames(p.inputs) {
		r, err := p.inputs[name].Reader()
		if err != nil {
			return err
		}
		for {
			if p.aborted() {
				return ErrProcessorAborted
			}
			ok, err := r.Next()
			if err != nil {
				return fmt.Errorf("input %q: %w", name, err)
			}
			if !ok {
				break
			}
			k := r.Key()
			if _, seen := groups[k]; !seen {
				order = append(order, k)
			}
			groups[k] = append(groups[k], r.Value())
			p.reporter.Counters().RecordsRead.Inc()
		}
	}

	for i, k := range order {
		if p.aborted() {
			return ErrProcessorAborted
		}
		v, err := p.reduceFn(k, groups[k])
		if err != nil {
			p.reporter.Counters().ProcessingErrors.Inc()
			return err
		}
		if err := collectAll(p.collectors, k, v); err != nil {
			return err
		}
		p.reporter.Counters().RecordsWritten.Inc()
		p.reporter.Progress(float64(i+1) / float64(len(order)))
	}
	return nil
}

// Abort requests the processing loop to stop.  Idempotent.
func (p *ReduceRecordProcessor) Abort() {
	p.stopOnce.Do(func() {
		close(p.stop)
		Log.WithField("attempt", p.id.TaskAttemptID()).Info("reduce processor abort requested")
	})
}

// Close releases the processor's handles.
func (p *ReduceRecordProcessor) Close() error {
	p.collectors = nil
	p.inputs = nil
	return nil
}

func (p *ReduceRecordProcessor) aborted() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// bindCollectors initializes one collector per output, in name order.
func bindCollectors(outputs map[string]LogicalOutput) ([]*KVOutputCollector, error) {
	if len(outputs) == 0 {
		return nil, errors.New("at least one logical output is required")
	}
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	collectors := make([]*KVOutputCollector, 0, len(outputs))
	for _, name := range names {
		c := NewKVOutputCollector(outputs[name])
		if err := c.Initialize(); err != nil {
			return nil, fmt.Errorf("bind output %q: %w", name, err)
		}
		collectors = append(collectors, c)
	}
	return collectors, nil
}

func collectAll(collectors []*KVOutputCollector, key, value any) error {
	for _, c := range collectors {
		if err := c.Collect(key, value); err != nil {
			return err
		}
	}
	return nil
}

func sortedInputNames(inputs map[string]LogicalInput) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
