package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTasksHeap_InsertionOrder(t *testing.T) {
	heap := NewTasksHeap()
	heap.InsertTask(1, 1, "u")
	heap.InsertTask(2, 1, "u")
	heap.InsertTask(3, 1, "u")

	taken := heap.TakeTasks(2, nil, nil)
	assert.Equal(t, []int64{1, 2}, taken)
	assert.Equal(t, 1, heap.Size())

	taken = heap.TakeTasks(10, nil, nil)
	assert.Equal(t, []int64{3}, taken)
	assert.Equal(t, 0, heap.Size())
}

func TestTasksHeap_GroupFiltering(t *testing.T) {
	heap := NewTasksHeap()
	heap.InsertTask(1, 1, "u")
	heap.InsertTask(2, 2, "u")
	heap.InsertTask(3, 1, "u")

	taken := heap.TakeTasks(10, []int{2}, nil)
	assert.Equal(t, []int64{2}, taken)
	// non-matching entries stay queued
	assert.Equal(t, 2, heap.Size())
}

func TestTasksHeap_AvailableSpace(t *testing.T) {
	heap := NewTasksHeap()
	heap.InsertTask(1, 1, "u")
	heap.InsertTask(2, 1, "u")
	heap.InsertTask(3, 2, "u")

	taken := heap.TakeTasks(10, nil, map[int]int{1: 1, 2: 1})
	assert.Equal(t, []int64{1, 3}, taken)
	assert.Equal(t, 1, heap.Size())
}

func TestTasksHeap_RemoveExpiredTask(t *testing.T) {
	heap := NewTasksHeap()
	heap.InsertTask(1, 1, "u")
	heap.InsertTask(2, 1, "u")

	heap.RemoveExpiredTask(1)
	heap.RemoveExpiredTask(99) // unknown id is a no-op

	taken := heap.TakeTasks(10, nil, nil)
	assert.Equal(t, []int64{2}, taken)
}
