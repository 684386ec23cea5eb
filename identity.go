package hive_mr3

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/seoyhaein/utils"
)

// Role selects the record-processor variant for a task attempt.
type Role int

// RoleMap and RoleReduce are the two task roles.
const (
	RoleMap Role = iota
	RoleReduce
)

func (r Role) String() string {
	if r == RoleMap {
		return "map"
	}
	return "reduce"
}

// marker returns the single-letter role marker used inside the legacy
// task-attempt identifier.
func (r Role) marker() string {
	if r == RoleMap {
		return "m"
	}
	return "r"
}

// TaskIdentity is derived once per attempt and never mutated afterwards.
// It parameterizes processor construction, the legacy MR settings, and the
// fragment key used for cache-consistency accounting.
type TaskIdentity struct {
	ClusterTimestamp int64
	JobID            int
	DAGIndex         int
	VertexIndex      int
	TaskIndex        int
	AttemptNumber    int
	Role             Role
	QueryID          string
}

// NewTaskIdentity returns a TaskIdentity for one attempt.  An empty queryID
// is replaced with a fresh UUID so that fragment keys stay attempt-unique.
func NewTaskIdentity(clusterTs int64, jobID, dagIdx, vertexIdx, taskIdx, attempt int, role Role, queryID string) TaskIdentity {
	if utils.IsEmptyString(queryID) {
		queryID = uuid.NewString()
	}
	return TaskIdentity{
		ClusterTimestamp: clusterTs,
		JobID:            jobID,
		DAGIndex:         dagIdx,
		VertexIndex:      vertexIdx,
		TaskIndex:        taskIdx,
		AttemptNumber:    attempt,
		Role:             role,
		QueryID:          queryID,
	}
}

// TaskAttemptID builds the legacy-style textual task-attempt identifier:
//
//	attempt_<clusterTs>_<jobID:4>_<m|r>_<taskIndex:6>_<attempt>
//
// "insert overwrite local directory" style consumers use this id as a
// directory name, so the zero padding must match the MR-era format exactly.
func (id TaskIdentity) TaskAttemptID() string {
	return fmt.Sprintf("attempt_%d_%04d_%s_%06d_%d",
		id.ClusterTimestamp, id.JobID, id.Role.marker(), id.TaskIndex, id.AttemptNumber)
}

// FragmentKey derives the attempt-unique key used by fragment accounting.
// Uniqueness follows from QueryID plus the dag/vertex/task/attempt indices.
func (id TaskIdentity) FragmentKey() string {
	return fmt.Sprintf("%s_%d_%d_%d_%d",
		id.QueryID, id.DAGIndex, id.VertexIndex, id.TaskIndex, id.AttemptNumber)
}

// ApplyLegacyKeys writes the MR-era settings derived from this identity into
// conf.  In MR, mapreduce.task.attempt.id is the same as mapred.task.id.
func (id TaskIdentity) ApplyLegacyKeys(conf *Config) {
	attemptID := id.TaskAttemptID()
	conf.Set(KeyTaskID, attemptID)
	conf.Set(KeyTaskAttemptID, attemptID)
	conf.SetInt(KeyTaskPartition, id.TaskIndex)
}
