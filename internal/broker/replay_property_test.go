package broker

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/aluccaroni/majordodo/internal/commitlog"
	"github.com/aluccaroni/majordodo/internal/model"
)

// TestProperty_ReplayDeterminism verifies that a replica recovering from the
// log reaches the same task and worker maps as the replica that produced
// them, for arbitrary interleavings of submissions, completions and worker
// edits. Wall-clock fields are excluded: createdTimestamp is set at apply
// time on each replica.
func TestProperty_ReplayDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("recovered replica matches the leader", prop.ForAll(
		func(taskCount int, finishEvery int, slotEvery int) bool {
			log := commitlog.NewMemoryLog()
			leader := NewBrokerStatus(log)
			if err := leader.StartWriting(); err != nil {
				return false
			}

			for i := 1; i <= taskCount; i++ {
				slot := ""
				if slotEvery > 0 && i%slotEvery == 0 {
					slot = fmt.Sprintf("slot-%d", i%3)
				}
				result, err := leader.ApplyModification(
					commitlog.NewAddTaskEdit(int64(i), i%4, "param", "user", 2, 0, slot))
				if err != nil {
					return false
				}
				if result.NewTaskID <= 0 {
					continue
				}
				if finishEvery > 0 && i%finishEvery == 0 {
					if _, err := leader.ApplyModification(
						commitlog.NewAssignTaskToWorkerEdit(result.NewTaskID, "w1", 1)); err != nil {
						return false
					}
					if _, err := leader.ApplyModification(
						commitlog.NewTaskStatusChangeEdit(result.NewTaskID, "w1", model.TaskStatusFinished, "ok")); err != nil {
						return false
					}
				}
			}
			if _, err := leader.ApplyModification(
				commitlog.NewWorkerConnectedEdit("w1", "pid", "loc", 1)); err != nil {
				return false
			}

			replica := NewBrokerStatus(log)
			if err := replica.Recover(); err != nil {
				return false
			}

			return statusEquals(leader, replica)
		},
		gen.IntRange(1, 30),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestProperty_SlotUniqueness verifies that at most one non-terminal task
// holds a given slot, whatever the submission pattern.
func TestProperty_SlotUniqueness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("non-terminal slot holders never exceed one", prop.ForAll(
		func(submissions int, distinctSlots int) bool {
			log := commitlog.NewMemoryLog()
			status := NewBrokerStatus(log)
			if err := status.StartWriting(); err != nil {
				return false
			}

			for i := 1; i <= submissions; i++ {
				slot := fmt.Sprintf("slot-%d", i%distinctSlots)
				if _, err := status.ApplyModification(
					commitlog.NewAddTaskEdit(int64(i), 1, "p", "u", 0, 0, slot)); err != nil {
					return false
				}
			}

			holders := make(map[string]int)
			for _, view := range status.GetAllTasks() {
				task := status.GetTask(view.TaskID)
				if task.Slot != "" && !task.IsTerminal() {
					holders[task.Slot]++
				}
			}
			for _, count := range holders {
				if count > 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// TestProperty_PurgeConservativeness verifies the purge pass never exceeds
// maxExpiredPerCycle and never signals a task without a passed deadline.
func TestProperty_PurgeConservativeness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("expirations bounded per cycle", prop.ForAll(
		func(expiredCount int, freshCount int, maxPerCycle int) bool {
			log := commitlog.NewMemoryLog()
			status := NewBrokerStatus(log)
			if err := status.StartWriting(); err != nil {
				return false
			}

			next := int64(0)
			past := int64(1) // far in the past, but non-zero
			for i := 0; i < expiredCount; i++ {
				next++
				if _, err := status.ApplyModification(
					commitlog.NewAddTaskEdit(next, 1, "p", "u", 0, past, "")); err != nil {
					return false
				}
			}
			for i := 0; i < freshCount; i++ {
				next++
				if _, err := status.ApplyModification(
					commitlog.NewAddTaskEdit(next, 1, "p", "u", 0, 0, "")); err != nil {
					return false
				}
			}

			expired := status.PurgeFinishedTasksAndSignalExpiredTasks(0, maxPerCycle)
			if len(expired) > maxPerCycle {
				return false
			}
			for _, id := range expired {
				task := status.GetTask(id)
				if task == nil || task.ExecutionDeadline == 0 {
					return false
				}
			}
			// nothing was removed, all tasks are non-terminal
			return len(status.GetAllTasks()) == expiredCount+freshCount
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func statusEquals(a, b *BrokerStatus) bool {
	tasksA := a.GetAllTasks()
	tasksB := b.GetAllTasks()
	if len(tasksA) != len(tasksB) {
		return false
	}
	byID := make(map[int64]model.TaskStatusView, len(tasksB))
	for _, view := range tasksB {
		byID[view.TaskID] = view
	}
	for _, view := range tasksA {
		other, ok := byID[view.TaskID]
		if !ok {
			return false
		}
		// createdTimestamp is replica-local
		view.CreatedTimestamp = 0
		other.CreatedTimestamp = 0
		if view != other {
			return false
		}
	}

	workersA := a.GetAllWorkers()
	workersB := b.GetAllWorkers()
	if len(workersA) != len(workersB) {
		return false
	}
	workerByID := make(map[string]model.WorkerStatusView, len(workersB))
	for _, view := range workersB {
		workerByID[view.ID] = view
	}
	for _, view := range workersA {
		if other, ok := workerByID[view.ID]; !ok || view != other {
			return false
		}
	}
	return a.LastLogSequenceNumber() == b.LastLogSequenceNumber()
}
