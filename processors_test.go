package hive_mr3

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func newTestReporter() Reporter {
	return NewLogReporter("attempt_test", NewCounterGroup("attempt_test"))
}

func TestMapProcessor_TransformsRecords(t *testing.T) {
	defer goleak.VerifyNone(t)

	conf := NewConfig()
	id := NewTaskIdentity(1700000000, 1, 0, 0, 0, 0, RoleMap, "q-map")
	upper := func(key, value any) (any, any, error) {
		return key, strings.ToUpper(value.(string)), nil
	}
	proc := NewMapRecordProcessor(conf, id, upper)

	inputs := map[string]LogicalInput{
		"left":  NewMemInput("left", KV{Key: 1, Value: "a"}, KV{Key: 2, Value: "b"}),
		"right": NewMemInput("right", KV{Key: 3, Value: "c"}),
	}
	out := NewMemOutput("sink")
	outputs := map[string]LogicalOutput{"sink": out}

	if err := proc.Init(newTestReporter(), inputs, outputs); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := proc.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := proc.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	got := out.Records()
	if len(got) != 3 {
		t.Fatalf("collected %d records, want 3", len(got))
	}
	// Inputs drain concurrently, so compare as a set.
	byKey := make(map[any]any, len(got))
	for _, kv := range got {
		byKey[kv.Key] = kv.Value
	}
	want := map[any]any{1: "A", 2: "B", 3: "C"}
	for k, v := range want {
		if byKey[k] != v {
			t.Errorf("key %v = %v, want %v", k, byKey[k], v)
		}
	}
}

func TestMapProcessor_AbortStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	conf := NewConfig()
	id := NewTaskIdentity(1700000000, 1, 0, 0, 1, 0, RoleMap, "q-map")

	var proc *MapRecordProcessor
	abortOnFirst := func(key, value any) (any, any, error) {
		// Simulates an abort landing while the processing loop is mid-record.
		proc.Abort()
		return key, value, nil
	}
	proc = NewMapRecordProcessor(conf, id, abortOnFirst)

	records := make([]KV, 100)
	for i := range records {
		records[i] = KV{Key: i, Value: i}
	}
	inputs := map[string]LogicalInput{"in": NewMemInput("in", records...)}
	outputs := map[string]LogicalOutput{"out": NewMemOutput("out")}

	if err := proc.Init(newTestReporter(), inputs, outputs); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := proc.Run(); !errors.Is(err, ErrProcessorAborted) {
		t.Fatalf("Run returned %v, want ErrProcessorAborted", err)
	}
	// Abort again; must stay a no-op.
	proc.Abort()
	if err := proc.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestMapProcessor_MapErrorSurfaces(t *testing.T) {
	defer goleak.VerifyNone(t)

	wantErr := errors.New("malformed record")
	conf := NewConfig()
	id := NewTaskIdentity(1700000000, 1, 0, 0, 2, 0, RoleMap, "q-map")
	failing := func(any, any) (any, any, error) {
		return nil, nil, wantErr
	}
	proc := NewMapRecordProcessor(conf, id, failing)

	inputs := map[string]LogicalInput{"in": NewMemInput("in", KV{Key: 1, Value: "x"})}
	outputs := map[string]LogicalOutput{"out": NewMemOutput("out")}

	if err := proc.Init(newTestReporter(), inputs, outputs); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := proc.Run(); !errors.Is(err, wantErr) {
		t.Fatalf("Run returned %v, want %v", err, wantErr)
	}
}

func TestMapProcessor_InitValidation(t *testing.T) {
	conf := NewConfig()
	id := NewTaskIdentity(1700000000, 1, 0, 0, 3, 0, RoleMap, "q-map")
	proc := NewMapRecordProcessor(conf, id, IdentityMapFn)

	outputs := map[string]LogicalOutput{"out": NewMemOutput("out")}
	if err := proc.Init(newTestReporter(), nil, outputs); err == nil {
		t.Error("Init accepted zero inputs")
	}

	inputs := map[string]LogicalInput{"in": NewMemInput("in")}
	if err := proc.Init(newTestReporter(), inputs, nil); err == nil {
		t.Error("Init accepted zero outputs")
	}
}

func TestReduceProcessor_GroupsByKey(t *testing.T) {
	conf := NewConfig()
	id := NewTaskIdentity(1700000000, 1, 0, 1, 0, 0, RoleReduce, "q-reduce")
	sum := func(_ any, values []any) (any, error) {
		total := 0
		for _, v := range values {
			total += v.(int)
		}
		return total, nil
	}
	proc := NewReduceRecordProcessor(conf, id, sum)

	// Inputs drain in name order, so the grouping order is deterministic.
	inputs := map[string]LogicalInput{
		"a": NewMemInput("a", KV{Key: "x", Value: 1}, KV{Key: "y", Value: 10}),
		"b": NewMemInput("b", KV{Key: "x", Value: 2}, KV{Key: "z", Value: 100}),
	}
	out := NewMemOutput("sink")
	outputs := map[string]LogicalOutput{"sink": out}

	if err := proc.Init(newTestReporter(), inputs, outputs); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := proc.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []KV{
		{Key: "x", Value: 3},
		{Key: "y", Value: 10},
		{Key: "z", Value: 100},
	}
	got := out.Records()
	if len(got) != len(want) {
		t.Fatalf("collected %d groups, want %d", len(got), len(want))
	}
	for i, kv := range want {
		if got[i] != kv {
			t.Errorf("group %d = %+v, want %+v", i, got[i], kv)
		}
	}
}

func TestReduceProcessor_AbortStopsRun(t *testing.T) {
	conf := NewConfig()
	id := NewTaskIdentity(1700000000, 1, 0, 1, 1, 0, RoleReduce, "q-reduce")
	proc := NewReduceRecordProcessor(conf, id, FirstValueReduceFn)

	inputs := map[string]LogicalInput{"in": NewMemInput("in", KV{Key: "k", Value: "v"})}
	outputs := map[string]LogicalOutput{"out": NewMemOutput("out")}

	if err := proc.Init(newTestReporter(), inputs, outputs); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	proc.Abort()
	if err := proc.Run(); !errors.Is(err, ErrProcessorAborted) {
		t.Fatalf("Run returned %v, want ErrProcessorAborted", err)
	}
}

func TestDefaultProcessorFactory_SelectsByRole(t *testing.T) {
	conf := NewConfig()

	mapID := NewTaskIdentity(1700000000, 1, 0, 0, 0, 0, RoleMap, "q")
	if _, ok := DefaultProcessorFactory(conf, mapID).(*MapRecordProcessor); !ok {
		t.Error("map role did not produce a MapRecordProcessor")
	}

	reduceID := NewTaskIdentity(1700000000, 1, 0, 1, 0, 0, RoleReduce, "q")
	if _, ok := DefaultProcessorFactory(conf, reduceID).(*ReduceRecordProcessor); !ok {
		t.Error("reduce role did not produce a ReduceRecordProcessor")
	}
}
