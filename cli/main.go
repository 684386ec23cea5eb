package main

import (
	"fmt"
	"time"

	hive_mr3 "github.com/chaulota/hive-mr3"
)

// collaborators are process-wide: the same registries serve every attempt
// run on this worker.
var collab = hive_mr3.Collaborators{
	Objects:     hive_mr3.NewObjectRegistry(),
	Work:        hive_mr3.NewWorkRegistry(),
	Fragments:   hive_mr3.NewFragmentCounterRegistry(),
	QueryCaches: hive_mr3.NewQueryCacheFactory(),
	Hooks:       hive_mr3.NewShutdownHookRegistry(),
}

func main() {
	conf, err := hive_mr3.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("LoadConfig failed: %v", err))
	}

	runCleanAttempt(conf)
	runAbortedAttempt(conf)
}

// runCleanAttempt drives one map-side attempt to completion.
func runCleanAttempt(conf *hive_mr3.Config) {
	id := hive_mr3.NewTaskIdentity(time.Now().Unix(), 1, 0, 0, 0, 0, hive_mr3.RoleMap, conf.QueryID)
	tc := hive_mr3.NewTaskController(conf, id, collab)
	if err := tc.Initialize(); err != nil {
		panic(fmt.Sprintf("Initialize failed: %v", err))
	}

	// Cache the attempt's execution plan the way a real planner would.
	collab.Work.SetWork(conf, "demo-map-plan")

	inputs := map[string]hive_mr3.LogicalInput{
		"edge-in": hive_mr3.NewMemInput("edge-in",
			hive_mr3.KV{Key: "a", Value: 1},
			hive_mr3.KV{Key: "b", Value: 2},
			hive_mr3.KV{Key: "c", Value: 3},
		),
	}
	out := hive_mr3.NewMemOutput("edge-out")
	outputs := map[string]hive_mr3.LogicalOutput{"edge-out": out}

	err := tc.Run(inputs, outputs)
	fmt.Printf("clean attempt %s: state=%s err=%v records=%d\n",
		tc.AttemptID(), tc.State(), err, len(out.Records()))
}

// runAbortedAttempt aborts a map-side attempt while it is in flight and
// shows the cancellation surfacing as the attempt's outcome.
func runAbortedAttempt(conf *hive_mr3.Config) {
	id := hive_mr3.NewTaskIdentity(time.Now().Unix(), 1, 0, 0, 1, 0, hive_mr3.RoleMap, conf.QueryID)

	// A map function slow enough for the abort to land mid-run.
	slow := func(key, value any) (any, any, error) {
		time.Sleep(50 * time.Millisecond)
		return key, value, nil
	}
	tc := hive_mr3.NewTaskController(conf, id, collab,
		hive_mr3.WithProcessorFactory(func(conf *hive_mr3.Config, id hive_mr3.TaskIdentity) hive_mr3.RecordProcessor {
			return hive_mr3.NewMapRecordProcessor(conf, id, slow)
		}))
	if err := tc.Initialize(); err != nil {
		panic(fmt.Sprintf("Initialize failed: %v", err))
	}

	records := make([]hive_mr3.KV, 0, 100)
	for i := 0; i < 100; i++ { //nolint:intrange
		records = append(records, hive_mr3.KV{Key: i, Value: i * i})
	}
	inputs := map[string]hive_mr3.LogicalInput{
		"edge-in": hive_mr3.NewMemInput("edge-in", records...),
	}
	outputs := map[string]hive_mr3.LogicalOutput{"edge-out": hive_mr3.NewMemOutput("edge-out")}

	timer := time.AfterFunc(120*time.Millisecond, tc.Abort)
	defer timer.Stop()

	err := tc.Run(inputs, outputs)
	fmt.Printf("aborted attempt %s: state=%s outcome=%s err=%v\n",
		tc.AttemptID(), tc.State(), tc.Outcome().Class(), err)
}
