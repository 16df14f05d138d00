package broker

import (
	"fmt"
	"time"

	"github.com/aluccaroni/majordodo/internal/commitlog"
	"github.com/aluccaroni/majordodo/internal/model"
	"github.com/aluccaroni/majordodo/pkg/config"
	"github.com/aluccaroni/majordodo/pkg/logger"
)

// Broker is the task lifecycle controller: it accepts submissions, hands
// tasks to workers, records outcomes, applies the retry policy and runs the
// purge and checkpoint passes. Every mutation goes through the replicated
// status as a typed edit.
type Broker struct {
	cfg    config.BrokerConfig
	status *BrokerStatus
	log    commitlog.StatusChangesLog
	heap   *TasksHeap

	started  chan struct{}
	stopCh   chan struct{}
	lifeDone chan struct{}
}

// NewBroker wires the controller to its log and heap.
func NewBroker(cfg config.BrokerConfig, log commitlog.StatusChangesLog, heap *TasksHeap) *Broker {
	return &Broker{
		cfg:      cfg,
		status:   NewBrokerStatus(log),
		log:      log,
		heap:     heap,
		started:  make(chan struct{}),
		stopCh:   make(chan struct{}),
		lifeDone: make(chan struct{}),
	}
}

// Status exposes the replicated status for queries.
func (b *Broker) Status() *BrokerStatus {
	return b.status
}

// Heap exposes the ready-queue.
func (b *Broker) Heap() *TasksHeap {
	return b.heap
}

// Start recovers from the log and launches the broker-life goroutine:
// follow the leader, then switch to writable and serve until stopped.
func (b *Broker) Start() error {
	if err := b.status.Recover(); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	go b.brokerLife()
	return nil
}

// StartAsWritable starts the broker and blocks until it reached the writable
// state: leader append path armed and waiting tasks rehydrated into the heap.
func (b *Broker) StartAsWritable() error {
	if err := b.Start(); err != nil {
		return err
	}
	for !b.IsRunning() {
		select {
		case <-b.stopCh:
			return fmt.Errorf("broker stopped before becoming writable")
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// brokerLife is the long-lived state machine:
// FOLLOWING -> (elected) -> WRITABLE -> STOPPED.
func (b *Broker) brokerLife() {
	defer close(b.lifeDone)

	if err := b.status.FollowTheLeader(); err != nil {
		// a broken follower loop means the replica lost the log, no
		// safe way to continue
		logger.Fatalf("follower loop aborted: %v", err)
	}
	if b.log.IsClosed() {
		return
	}
	logger.Infof("starting as leader")
	if err := b.status.StartWriting(); err != nil {
		logger.Fatalf("cannot arm the leader append path: %v", err)
	}
	for _, task := range b.status.GetTasksAtBoot() {
		if task.Status == model.TaskStatusWaiting {
			b.heap.InsertTask(task.TaskID, task.Type, task.UserID)
		}
	}
	close(b.started)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// IsRunning reports whether the broker reached the writable state.
func (b *Broker) IsRunning() bool {
	select {
	case <-b.started:
		return true
	default:
		return false
	}
}

// Stop closes the log, joins the broker-life goroutine and releases the
// status.
func (b *Broker) Stop() {
	close(b.stopCh)
	// unblocks a follower loop stuck inside the log
	b.status.Close()
	<-b.lifeDone
}

// AddTask submits a task. Returns the new task id, or 0 when a slot-bearing
// submission was dropped as a duplicate.
func (b *Broker) AddTask(taskType int, userID, parameter string, maxAttempts int, executionDeadline int64, slot string) (int64, error) {
	taskID := b.status.NextTaskID()
	edit := commitlog.NewAddTaskEdit(taskID, taskType, parameter, userID, maxAttempts, executionDeadline, slot)
	result, err := b.status.ApplyModification(edit)
	if err != nil {
		return 0, err
	}
	if result.NewTaskID > 0 {
		b.heap.InsertTask(result.NewTaskID, taskType, userID)
	}
	return result.NewTaskID, nil
}

// AssignTasksToWorker takes up to max candidate tasks from the heap for
// workerID and dispatches them. Candidates whose deadline already passed
// are transitioned to ERROR instead and excluded from the returned list.
func (b *Broker) AssignTasksToWorker(max int, availableSpace map[int]int, groups []int, workerID string) ([]int64, error) {
	candidates := b.heap.TakeTasks(max, groups, availableSpace)
	now := time.Now().UnixMilli()
	assigned := make([]int64, 0, len(candidates))
	for _, taskID := range candidates {
		task := b.status.GetTask(taskID)
		if task == nil {
			continue
		}
		deadline := task.ExecutionDeadline
		if deadline > 0 && deadline < now {
			logger.Infof("task %d deadline expired %d", taskID, deadline)
			edit := commitlog.NewTaskStatusChangeEdit(taskID, "", model.TaskStatusError, "deadline_expired")
			if _, err := b.status.ApplyModification(edit); err != nil {
				return nil, err
			}
			continue
		}
		edit := commitlog.NewAssignTaskToWorkerEdit(taskID, workerID, task.Attempts+1)
		if _, err := b.status.ApplyModification(edit); err != nil {
			return nil, err
		}
		assigned = append(assigned, taskID)
	}
	return assigned, nil
}

// TaskFinished records the outcome reported by a worker. FINISHED is
// terminal; ERROR retries until maxAttempts or the deadline is exhausted,
// then sticks. WAITING and RUNNING are not legal final statuses.
func (b *Broker) TaskFinished(workerID string, taskID int64, finalStatus int, result string) error {
	task := b.status.GetTask(taskID)
	if task == nil {
		logger.Errorf("taskFinished %d, task does not exist", taskID)
		return nil
	}
	switch finalStatus {
	case model.TaskStatusFinished:
		edit := commitlog.NewTaskStatusChangeEdit(taskID, workerID, finalStatus, result)
		_, err := b.status.ApplyModification(edit)
		return err

	case model.TaskStatusError:
		if task.MaxAttempts > 0 && task.Attempts >= task.MaxAttempts {
			// too many attempts
			logger.Errorf("taskFinished %d, too many attempts %d/%d", taskID, task.Attempts, task.MaxAttempts)
			edit := commitlog.NewTaskStatusChangeEdit(taskID, workerID, model.TaskStatusError, result)
			_, err := b.status.ApplyModification(edit)
			return err
		}
		if task.ExecutionDeadline > 0 && task.ExecutionDeadline < time.Now().UnixMilli() {
			logger.Errorf("taskFinished %d, deadline expired %d", taskID, task.ExecutionDeadline)
			edit := commitlog.NewTaskStatusChangeEdit(taskID, workerID, model.TaskStatusError, result)
			_, err := b.status.ApplyModification(edit)
			return err
		}
		logger.Infof("taskFinished %d, attempts %d/%d, scheduling for retry", taskID, task.Attempts, task.MaxAttempts)
		edit := commitlog.NewTaskStatusChangeEdit(taskID, workerID, model.TaskStatusWaiting, result)
		if _, err := b.status.ApplyModification(edit); err != nil {
			return err
		}
		b.heap.InsertTask(taskID, task.Type, task.UserID)
		return nil

	default:
		panic(fmt.Sprintf("taskFinished: bad final status %d", finalStatus))
	}
}

// TaskNeedsRecoveryDueToWorkerDeath records the death of the worker running
// taskID.
func (b *Broker) TaskNeedsRecoveryDueToWorkerDeath(taskID int64, workerID string) error {
	return b.TaskFinished(workerID, taskID, model.TaskStatusError, fmt.Sprintf("worker %s died", workerID))
}

// WorkerConnected records a worker connection.
func (b *Broker) WorkerConnected(workerID, processID, location string, timestamp int64) error {
	edit := commitlog.NewWorkerConnectedEdit(workerID, processID, location, timestamp)
	_, err := b.status.ApplyModification(edit)
	return err
}

// DeclareWorkerDisconnected records a worker disconnection.
func (b *Broker) DeclareWorkerDisconnected(workerID string, timestamp int64) error {
	edit := commitlog.NewWorkerDisconnectedEdit(workerID, timestamp)
	_, err := b.status.ApplyModification(edit)
	return err
}

// DeclareWorkerDead records a worker death.
func (b *Broker) DeclareWorkerDead(workerID string, timestamp int64) error {
	edit := commitlog.NewWorkerDiedEdit(workerID, timestamp)
	_, err := b.status.ApplyModification(edit)
	return err
}

// PurgeTasks runs one purge pass: drop old terminal tasks from memory and
// expire waiting tasks whose deadline passed.
func (b *Broker) PurgeTasks() {
	expired := b.status.PurgeFinishedTasksAndSignalExpiredTasks(b.cfg.RetentionDuration(), b.cfg.MaxExpiredTasksPerCycle)
	for _, taskID := range expired {
		edit := commitlog.NewTaskStatusChangeEdit(taskID, "", model.TaskStatusError, "deadline_expired")
		if _, err := b.status.ApplyModification(edit); err != nil {
			logger.Errorf("error while expiring task %d: %v", taskID, err)
			continue
		}
		b.heap.RemoveExpiredTask(taskID)
	}
}

// Checkpoint snapshots the status and hands it to the log.
func (b *Broker) Checkpoint() error {
	return b.status.Checkpoint()
}
