package commitlog

import (
	"fmt"
)

// Edit types, the unit of replication. The numeric values are part of the
// journal format.
const (
	EditTypeAddTask            = 1
	EditTypeWorkerConnected    = 2
	EditTypeWorkerDisconnected = 3
	EditTypeWorkerDied         = 4
	EditTypeAssignTaskToWorker = 5
	EditTypeTaskStatusChange   = 6
)

// StatusEdit describes a single atomic mutation of broker status. Edits are
// built on the leader, persisted by the log and applied in sequence order on
// every replica. Wall-clock fields are set at construction time so replay
// stays deterministic.
type StatusEdit struct {
	EditType          int    `json:"editType"`
	TaskID            int64  `json:"taskId,omitempty"`
	TaskType          int    `json:"taskType,omitempty"`
	Parameter         string `json:"parameter,omitempty"`
	UserID            string `json:"userId,omitempty"`
	MaxAttempts       int    `json:"maxAttempts,omitempty"`
	ExecutionDeadline int64  `json:"executionDeadline,omitempty"`
	Slot              string `json:"slot,omitempty"`
	WorkerID          string `json:"workerId,omitempty"`
	Attempt           int    `json:"attempt,omitempty"`
	TaskStatus        int    `json:"taskStatus,omitempty"`
	Result            string `json:"result,omitempty"`
	WorkerProcessID   string `json:"workerProcessId,omitempty"`
	WorkerLocation    string `json:"workerLocation,omitempty"`
	Timestamp         int64  `json:"timestamp,omitempty"`
}

// NewAddTaskEdit builds the edit that creates a task in WAITING state.
func NewAddTaskEdit(taskID int64, taskType int, parameter, userID string, maxAttempts int, executionDeadline int64, slot string) *StatusEdit {
	return &StatusEdit{
		EditType:          EditTypeAddTask,
		TaskID:            taskID,
		TaskType:          taskType,
		Parameter:         parameter,
		UserID:            userID,
		MaxAttempts:       maxAttempts,
		ExecutionDeadline: executionDeadline,
		Slot:              slot,
	}
}

// NewAssignTaskToWorkerEdit builds the edit that dispatches a task.
func NewAssignTaskToWorkerEdit(taskID int64, workerID string, attempt int) *StatusEdit {
	return &StatusEdit{
		EditType: EditTypeAssignTaskToWorker,
		TaskID:   taskID,
		WorkerID: workerID,
		Attempt:  attempt,
	}
}

// NewTaskStatusChangeEdit builds a status transition edit. An empty workerID
// skips the ownership check in the applier.
func NewTaskStatusChangeEdit(taskID int64, workerID string, taskStatus int, result string) *StatusEdit {
	return &StatusEdit{
		EditType:   EditTypeTaskStatusChange,
		TaskID:     taskID,
		WorkerID:   workerID,
		TaskStatus: taskStatus,
		Result:     result,
	}
}

// NewWorkerConnectedEdit builds the edit recording a worker connection.
func NewWorkerConnectedEdit(workerID, processID, location string, timestamp int64) *StatusEdit {
	return &StatusEdit{
		EditType:        EditTypeWorkerConnected,
		WorkerID:        workerID,
		WorkerProcessID: processID,
		WorkerLocation:  location,
		Timestamp:       timestamp,
	}
}

// NewWorkerDisconnectedEdit builds the edit recording a worker disconnection.
func NewWorkerDisconnectedEdit(workerID string, timestamp int64) *StatusEdit {
	return &StatusEdit{
		EditType:  EditTypeWorkerDisconnected,
		WorkerID:  workerID,
		Timestamp: timestamp,
	}
}

// NewWorkerDiedEdit builds the edit recording a worker death.
func NewWorkerDiedEdit(workerID string, timestamp int64) *StatusEdit {
	return &StatusEdit{
		EditType:  EditTypeWorkerDied,
		WorkerID:  workerID,
		Timestamp: timestamp,
	}
}

func (e *StatusEdit) String() string {
	switch e.EditType {
	case EditTypeAddTask:
		return fmt.Sprintf("ADD_TASK task=%d type=%d user=%s slot=%s", e.TaskID, e.TaskType, e.UserID, e.Slot)
	case EditTypeAssignTaskToWorker:
		return fmt.Sprintf("ASSIGN_TASK_TO_WORKER task=%d worker=%s attempt=%d", e.TaskID, e.WorkerID, e.Attempt)
	case EditTypeTaskStatusChange:
		return fmt.Sprintf("TASK_STATUS_CHANGE task=%d worker=%s status=%d", e.TaskID, e.WorkerID, e.TaskStatus)
	case EditTypeWorkerConnected:
		return fmt.Sprintf("WORKER_CONNECTED worker=%s location=%s", e.WorkerID, e.WorkerLocation)
	case EditTypeWorkerDisconnected:
		return fmt.Sprintf("WORKER_DISCONNECTED worker=%s", e.WorkerID)
	case EditTypeWorkerDied:
		return fmt.Sprintf("WORKER_DIED worker=%s", e.WorkerID)
	default:
		return fmt.Sprintf("UNKNOWN_EDIT type=%d", e.EditType)
	}
}
