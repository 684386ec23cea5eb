package hive_mr3

import (
	"sync"
)

// KV is one key/value record flowing through an attempt.
type KV struct {
	Key   any
	Value any
}

// KeyValueReader iterates over the records of a logical input.
type KeyValueReader interface {
	// Next advances to the next record.  It returns false when the input is
	// exhausted.
	Next() (bool, error)
	Key() any
	Value() any
}

// KeyValueWriter receives the records of a logical output.
type KeyValueWriter interface {
	Write(key, value any) error
}

// LogicalInput is a typed input handle for one incoming edge.
type LogicalInput interface {
	Name() string
	Reader() (KeyValueReader, error)
}

// LogicalOutput is a typed output handle for one outgoing edge.
type LogicalOutput interface {
	Name() string
	Writer() (KeyValueWriter, error)
}

// KVOutputCollector adapts a LogicalOutput to a two-argument collect call.
// Must be initialized before it is used; Collect is a straight pass-through
// to the bound writer with no retry or buffering.
type KVOutputCollector struct {
	output LogicalOutput
	writer KeyValueWriter
}

// NewKVOutputCollector returns a collector bound to output.  Call Initialize
// before the first Collect.
func NewKVOutputCollector(output LogicalOutput) *KVOutputCollector {
	return &KVOutputCollector{output: output}
}

// Initialize binds the underlying writer.
func (c *KVOutputCollector) Initialize() error {
	w, err := c.output.Writer()
	if err != nil {
		return err
	}
	c.writer = w
	return nil
}

// Collect forwards one record to the bound writer.
func (c *KVOutputCollector) Collect(key, value any) error {
	if c.writer == nil {
		return ErrCollectorNotInitialized
	}
	return c.writer.Write(key, value)
}

// MemInput is an in-memory LogicalInput used by tests and demos.
type MemInput struct {
	name    string
	records []KV
}

// NewMemInput returns an input named name holding records.
func NewMemInput(name string, records ...KV) *MemInput {
	return &MemInput{name: name, records: records}
}

func (in *MemInput) Name() string { return in.name }

// Reader returns a fresh reader positioned before the first record.
func (in *MemInput) Reader() (KeyValueReader, error) {
	return &memReader{records: in.records, idx: -1}, nil
}

type memReader struct {
	records []KV
	idx     int
}

func (r *memReader) Next() (bool, error) {
	if r.idx+1 >= len(r.records) {
		return false, nil
	}
	r.idx++
	return true, nil
}

func (r *memReader) Key() any   { return r.records[r.idx].Key }
func (r *memReader) Value() any { return r.records[r.idx].Value }

// MemOutput is an in-memory LogicalOutput used by tests and demos.  Writes
// from concurrent collectors are serialized by the internal lock.
type MemOutput struct {
	name string

	mu      sync.Mutex
	records []KV
}

// NewMemOutput returns an empty output named name.
func NewMemOutput(name string) *MemOutput {
	return &MemOutput{name: name}
}

func (out *MemOutput) Name() string { return out.name }

// Writer binds the output as its own writer.
func (out *MemOutput) Writer() (KeyValueWriter, error) {
	return out, nil
}

// Write appends one record.
func (out *MemOutput) Write(key, value any) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.records = append(out.records, KV{Key: key, Value: value})
	return nil
}

// Records returns a copy of everything written so far.
func (out *MemOutput) Records() []KV {
	out.mu.Lock()
	defer out.mu.Unlock()
	cp := make([]KV, len(out.records))
	copy(cp, out.records)
	return cp
}
