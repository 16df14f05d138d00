package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluccaroni/majordodo/internal/commitlog"
	"github.com/aluccaroni/majordodo/internal/model"
	"github.com/aluccaroni/majordodo/pkg/logger"
)

// BrokerStatus is the replicated status of the broker. Each replica, leader
// or follower, holds a copy, kept identical by applying the same edit
// stream in log order. All mutation goes through applyEdit under the write
// lock; queries take the read lock and hand out structural copies.
type BrokerStatus struct {
	mu      sync.RWMutex
	tasks   map[int64]*model.Task
	workers map[string]*model.WorkerStatus

	maxTaskID  int64
	nextTaskID atomic.Int64
	lastSeq    commitlog.LogSequenceNumber

	checkpointsCount atomic.Int32

	log   commitlog.StatusChangesLog
	slots *SlotsManager
}

// ModificationResult carries the assigned sequence number and, for ADD_TASK,
// the created task id. NewTaskID is -1 for other edit kinds and 0 when the
// submission was dropped as a slot duplicate.
type ModificationResult struct {
	SequenceNumber commitlog.LogSequenceNumber
	NewTaskID      int64
}

// NewBrokerStatus creates an empty status bound to log.
func NewBrokerStatus(log commitlog.StatusChangesLog) *BrokerStatus {
	return &BrokerStatus{
		tasks:     make(map[int64]*model.Task),
		workers:   make(map[string]*model.WorkerStatus),
		maxTaskID: -1,
		log:       log,
		slots:     NewSlotsManager(),
	}
}

// NextTaskID mints a new task id. Readable without the status lock.
func (s *BrokerStatus) NextTaskID() int64 {
	return s.nextTaskID.Add(1)
}

// CheckpointsCount returns how many checkpoints this replica completed.
func (s *BrokerStatus) CheckpointsCount() int {
	return int(s.checkpointsCount.Load())
}

// LastLogSequenceNumber returns the highest applied sequence number.
func (s *BrokerStatus) LastLogSequenceNumber() commitlog.LogSequenceNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// GetTask returns a copy of the task, or nil.
func (s *BrokerStatus) GetTask(taskID int64) *model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	return task.CloneForSnapshot()
}

// GetTaskStatus returns the client view of the task, or nil.
func (s *BrokerStatus) GetTaskStatus(taskID int64) *model.TaskStatusView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	view := createTaskStatusView(task)
	return &view
}

// GetWorkerStatus returns a copy of the worker record, or nil.
func (s *BrokerStatus) GetWorkerStatus(workerID string) *model.WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, ok := s.workers[workerID]
	if !ok {
		return nil
	}
	return worker.CloneForSnapshot()
}

// GetAllTasks returns client views of every task.
func (s *BrokerStatus) GetAllTasks() []model.TaskStatusView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.TaskStatusView, 0, len(s.tasks))
	for _, task := range s.tasks {
		result = append(result, createTaskStatusView(task))
	}
	return result
}

// GetAllWorkers returns client views of every known worker.
func (s *BrokerStatus) GetAllWorkers() []model.WorkerStatusView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.WorkerStatusView, 0, len(s.workers))
	for _, worker := range s.workers {
		result = append(result, createWorkerStatusView(worker))
	}
	return result
}

// GetTasksAtBoot returns copies of every task, used once at startup to
// rehydrate the heap.
func (s *BrokerStatus) GetTasksAtBoot() []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		result = append(result, task.CloneForSnapshot())
	}
	return result
}

// GetWorkersAtBoot returns copies of every worker record.
func (s *BrokerStatus) GetWorkersAtBoot() []*model.WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.WorkerStatus, 0, len(s.workers))
	for _, worker := range s.workers {
		result = append(result, worker.CloneForSnapshot())
	}
	return result
}

func createTaskStatusView(task *model.Task) model.TaskStatusView {
	return model.TaskStatusView{
		TaskID:            task.TaskID,
		Type:              task.Type,
		UserID:            task.UserID,
		Parameter:         task.Parameter,
		Result:            task.Result,
		CreatedTimestamp:  task.CreatedTimestamp,
		ExecutionDeadline: task.ExecutionDeadline,
		MaxAttempts:       task.MaxAttempts,
		Attempts:          task.Attempts,
		WorkerID:          task.WorkerID,
		Status:            task.Status,
	}
}

func createWorkerStatusView(worker *model.WorkerStatus) model.WorkerStatusView {
	return model.WorkerStatusView{
		ID:               worker.WorkerID,
		Location:         worker.Location,
		ProcessID:        worker.ProcessID,
		LastConnectionTs: worker.LastConnectionTs,
		Status:           model.WorkerStatusString(worker.Status),
	}
}

// ApplyModification is the leader append path: persist the edit, then apply
// it. ADD_TASK edits carrying a slot reserve it first; if the slot is taken
// the submission is dropped and NewTaskID is 0. The append happens outside
// the status lock, ordering is the log's sequence numbers.
func (s *BrokerStatus) ApplyModification(edit *commitlog.StatusEdit) (ModificationResult, error) {
	logger.Debugf("applyModification %s", edit)
	if edit.EditType == commitlog.EditTypeAddTask && edit.Slot != "" {
		if !s.slots.AssignSlot(edit.Slot) {
			// slot already assigned
			return ModificationResult{NewTaskID: 0}, nil
		}
		seq, err := s.log.LogStatusEdit(edit)
		if err != nil {
			s.slots.ReleaseSlot(edit.Slot)
			return ModificationResult{}, fmt.Errorf("failed to log status edit: %w", err)
		}
		return s.applyEdit(seq, edit), nil
	}

	seq, err := s.log.LogStatusEdit(edit)
	if err != nil {
		return ModificationResult{}, fmt.Errorf("failed to log status edit: %w", err)
	}
	return s.applyEdit(seq, edit), nil
}

// applyEdit performs the state transition for one edit. It cannot fail for
// environmental reasons: any failure here means this replica diverged from
// the log and it panics. The embedding process must not recover the panic.
func (s *BrokerStatus) applyEdit(seq commitlog.LogSequenceNumber, edit *commitlog.StatusEdit) ModificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq = seq
	switch edit.EditType {
	case commitlog.EditTypeAddTask:
		task := &model.Task{
			TaskID:            edit.TaskID,
			Type:              edit.TaskType,
			UserID:            edit.UserID,
			Parameter:         edit.Parameter,
			CreatedTimestamp:  time.Now().UnixMilli(),
			ExecutionDeadline: edit.ExecutionDeadline,
			MaxAttempts:       edit.MaxAttempts,
			Slot:              edit.Slot,
			Status:            model.TaskStatusWaiting,
		}
		if s.maxTaskID < edit.TaskID {
			s.maxTaskID = edit.TaskID
		}
		s.tasks[edit.TaskID] = task
		if edit.Slot != "" {
			// re-establishes the reservation on log replay and on followers
			s.slots.AssignSlot(edit.Slot)
		}
		return ModificationResult{SequenceNumber: seq, NewTaskID: edit.TaskID}

	case commitlog.EditTypeAssignTaskToWorker:
		task, ok := s.tasks[edit.TaskID]
		if !ok {
			panic(fmt.Sprintf("applyEdit: assign for unknown task %d, replica diverged", edit.TaskID))
		}
		task.Status = model.TaskStatusRunning
		task.WorkerID = edit.WorkerID
		task.Attempts = edit.Attempt
		return ModificationResult{SequenceNumber: seq, NewTaskID: -1}

	case commitlog.EditTypeTaskStatusChange:
		task, ok := s.tasks[edit.TaskID]
		if !ok {
			panic(fmt.Sprintf("applyEdit: status change for unknown task %d, replica diverged", edit.TaskID))
		}
		if edit.WorkerID != "" && task.WorkerID != edit.WorkerID {
			panic(fmt.Sprintf("applyEdit: task %d, bad workerId %s, expected %s", edit.TaskID, edit.WorkerID, task.WorkerID))
		}
		task.Status = edit.TaskStatus
		task.Result = edit.Result
		if task.Slot != "" {
			switch edit.TaskStatus {
			case model.TaskStatusFinished, model.TaskStatusError:
				s.slots.ReleaseSlot(task.Slot)
			}
		}
		return ModificationResult{SequenceNumber: seq, NewTaskID: -1}

	case commitlog.EditTypeWorkerConnected:
		worker := s.workerLocked(edit.WorkerID)
		worker.Status = model.WorkerStatusConnected
		worker.Location = edit.WorkerLocation
		worker.ProcessID = edit.WorkerProcessID
		worker.LastConnectionTs = edit.Timestamp
		return ModificationResult{SequenceNumber: seq, NewTaskID: -1}

	case commitlog.EditTypeWorkerDisconnected:
		worker := s.workerLocked(edit.WorkerID)
		worker.Status = model.WorkerStatusDisconnected
		return ModificationResult{SequenceNumber: seq, NewTaskID: -1}

	case commitlog.EditTypeWorkerDied:
		worker := s.workerLocked(edit.WorkerID)
		worker.Status = model.WorkerStatusDead
		return ModificationResult{SequenceNumber: seq, NewTaskID: -1}

	default:
		panic(fmt.Sprintf("applyEdit: unknown edit type %d", edit.EditType))
	}
}

// workerLocked upserts a worker record. Caller holds the write lock.
func (s *BrokerStatus) workerLocked(workerID string) *model.WorkerStatus {
	worker, ok := s.workers[workerID]
	if !ok {
		worker = &model.WorkerStatus{WorkerID: workerID}
		s.workers[workerID] = worker
	}
	return worker
}

// FollowTheLeader runs the follower loop: tail and apply edits until this
// replica is elected leader or the log is closed.
func (s *BrokerStatus) FollowTheLeader() error {
	for !s.log.IsLeader() && !s.log.IsClosed() {
		if err := s.log.FollowTheLeader(s.LastLogSequenceNumber(), s.applyEditCallback); err != nil {
			return fmt.Errorf("follower loop failed: %w", err)
		}
	}
	return nil
}

func (s *BrokerStatus) applyEditCallback(seq commitlog.LogSequenceNumber, edit *commitlog.StatusEdit) {
	s.applyEdit(seq, edit)
}

// Recover loads the newest snapshot and replays the log tail. After replay
// the next minted task id is strictly greater than every recovered id.
func (s *BrokerStatus) Recover() error {
	s.mu.Lock()
	snapshot, err := s.log.LoadSnapshot()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	s.maxTaskID = snapshot.MaxTaskID
	s.lastSeq = snapshot.ActualSequenceNumber
	s.resetNextTaskIDLocked()
	for _, task := range snapshot.Tasks {
		s.tasks[task.TaskID] = task
		if task.Slot != "" && !task.IsTerminal() {
			s.slots.AssignSlot(task.Slot)
		}
	}
	for _, worker := range snapshot.Workers {
		s.workers[worker.WorkerID] = worker
	}
	from := s.lastSeq
	s.mu.Unlock()

	// the replay callback takes the write lock per edit
	if err := s.log.Recovery(from, s.applyEditCallback); err != nil {
		return fmt.Errorf("log replay failed: %w", err)
	}

	s.mu.Lock()
	// the tail may have produced tasks past the snapshot
	s.resetNextTaskIDLocked()
	s.mu.Unlock()
	return nil
}

// resetNextTaskIDLocked makes the next minted id maxTaskID+1. Caller holds
// the write lock.
func (s *BrokerStatus) resetNextTaskIDLocked() {
	next := s.maxTaskID
	if next < 0 {
		next = 0
	}
	s.nextTaskID.Store(next)
}

// StartWriting arms the log for leader appends.
func (s *BrokerStatus) StartWriting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.StartWriting(); err != nil {
		return fmt.Errorf("failed to start writing: %w", err)
	}
	return nil
}

// Checkpoint builds a snapshot under the read lock and hands it to the log
// as the new truncation point.
func (s *BrokerStatus) Checkpoint() error {
	s.checkpointsCount.Add(1)
	logger.Infof("checkpoint")
	s.mu.RLock()
	snapshot := s.createSnapshotLocked()
	s.mu.RUnlock()
	if err := s.log.Checkpoint(snapshot); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

func (s *BrokerStatus) createSnapshotLocked() *commitlog.Snapshot {
	snap := &commitlog.Snapshot{
		MaxTaskID:            s.maxTaskID,
		ActualSequenceNumber: s.lastSeq,
		Tasks:                make([]*model.Task, 0, len(s.tasks)),
		Workers:              make([]*model.WorkerStatus, 0, len(s.workers)),
	}
	for _, task := range s.tasks {
		snap.Tasks = append(snap.Tasks, task.CloneForSnapshot())
	}
	for _, worker := range s.workers {
		snap.Workers = append(snap.Workers, worker.CloneForSnapshot())
	}
	return snap
}

// PurgeFinishedTasksAndSignalExpiredTasks removes terminal tasks older than
// retention from memory and collects up to maxExpiredPerCycle waiting tasks
// whose deadline passed. Purge is memory-only: the log is not rewritten, so
// purged tasks may reappear after recovery and be purged again.
func (s *BrokerStatus) PurgeFinishedTasksAndSignalExpiredTasks(retention time.Duration, maxExpiredPerCycle int) []int64 {
	now := time.Now().UnixMilli()
	finishedDeadline := now - retention.Milliseconds()

	expired := make([]int64, 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	for taskID, task := range s.tasks {
		switch task.Status {
		case model.TaskStatusWaiting:
			if len(expired) < maxExpiredPerCycle {
				deadline := task.ExecutionDeadline
				if deadline > 0 && deadline < now {
					expired = append(expired, taskID)
					logger.Infof("task %d expired, deadline %d", taskID, deadline)
				}
			}
		case model.TaskStatusError, model.TaskStatusFinished:
			if task.CreatedTimestamp < finishedDeadline {
				logger.Infof("purging finished task %d, created at %d", taskID, task.CreatedTimestamp)
				delete(s.tasks, taskID)
			}
		}
	}
	return expired
}

// Close releases the log.
func (s *BrokerStatus) Close() {
	if err := s.log.Close(); err != nil {
		logger.Errorf("error while closing status changes log: %v", err)
	}
}
