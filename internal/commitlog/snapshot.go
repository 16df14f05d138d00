package commitlog

import (
	"github.com/aluccaroni/majordodo/internal/model"
)

// Snapshot is a self-contained serialization of broker status at a specific
// sequence number, used for cold recovery and log truncation.
type Snapshot struct {
	MaxTaskID            int64                 `json:"maxTaskId"`
	ActualSequenceNumber LogSequenceNumber     `json:"actualLogSequenceNumber"`
	Tasks                []*model.Task         `json:"tasks"`
	Workers              []*model.WorkerStatus `json:"workers"`
}

// EmptySnapshot is the snapshot of a broker that never applied an edit.
func EmptySnapshot() *Snapshot {
	return &Snapshot{MaxTaskID: -1, ActualSequenceNumber: 0}
}
