package broker

import (
	"sync"
)

type heapEntry struct {
	taskID   int64
	taskType int
	userID   string
}

// TasksHeap is the ready-queue of waiting tasks. Entries are handed out in
// insertion order, filtered by task-type groups and per-type available
// space. Fairness policies beyond that live outside the broker core.
type TasksHeap struct {
	mu      sync.Mutex
	entries []heapEntry
}

// NewTasksHeap creates an empty heap.
func NewTasksHeap() *TasksHeap {
	return &TasksHeap{}
}

// InsertTask queues a waiting task.
func (h *TasksHeap) InsertTask(taskID int64, taskType int, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, heapEntry{taskID: taskID, taskType: taskType, userID: userID})
}

// TakeTasks removes and returns up to max task ids matching the requested
// groups. groups is a list of task types the worker accepts; empty means
// any. availableSpace caps how many tasks of each type may be taken; a nil
// map means no cap.
func (h *TasksHeap) TakeTasks(max int, groups []int, availableSpace map[int]int) []int64 {
	accepts := make(map[int]bool, len(groups))
	for _, g := range groups {
		accepts[g] = true
	}
	var space map[int]int
	if availableSpace != nil {
		space = make(map[int]int, len(availableSpace))
		for k, v := range availableSpace {
			space[k] = v
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var taken []int64
	retained := h.entries[:0]
	for _, e := range h.entries {
		if len(taken) >= max {
			retained = append(retained, e)
			continue
		}
		if len(accepts) > 0 && !accepts[e.taskType] {
			retained = append(retained, e)
			continue
		}
		if space != nil {
			if space[e.taskType] <= 0 {
				retained = append(retained, e)
				continue
			}
			space[e.taskType]--
		}
		taken = append(taken, e.taskID)
	}
	h.entries = retained
	return taken
}

// RemoveExpiredTask drops a task id from the heap if still queued.
func (h *TasksHeap) RemoveExpiredTask(taskID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.taskID == taskID {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// Size returns the number of queued tasks.
func (h *TasksHeap) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
