package jobs

import (
	"context"
	"time"

	"github.com/aluccaroni/majordodo/internal/broker"
	"github.com/aluccaroni/majordodo/pkg/logger"
)

// checkpointJob periodically snapshots broker status so the log can be
// truncated. It runs on leaders and followers alike.
type checkpointJob struct {
	interval time.Duration
	broker   *broker.Broker
}

// NewCheckpointJob creates the checkpoint scheduler.
func NewCheckpointJob(interval time.Duration, b *broker.Broker) Job {
	return &checkpointJob{interval: interval, broker: b}
}

func (j *checkpointJob) Name() string { return "checkpoint" }

func (j *checkpointJob) Interval() time.Duration { return j.interval }

func (j *checkpointJob) Run(ctx context.Context) error {
	return j.broker.Checkpoint()
}

// finishedTaskCollectorJob periodically purges old terminal tasks from
// memory and expires overdue waiting tasks.
type finishedTaskCollectorJob struct {
	interval time.Duration
	broker   *broker.Broker
}

// NewFinishedTaskCollectorJob creates the purge scheduler.
func NewFinishedTaskCollectorJob(interval time.Duration, b *broker.Broker) Job {
	return &finishedTaskCollectorJob{interval: interval, broker: b}
}

func (j *finishedTaskCollectorJob) Name() string { return "finished-task-collector" }

func (j *finishedTaskCollectorJob) Interval() time.Duration { return j.interval }

func (j *finishedTaskCollectorJob) Run(ctx context.Context) error {
	logger.Debugf("running finished task collector")
	j.broker.PurgeTasks()
	return nil
}
