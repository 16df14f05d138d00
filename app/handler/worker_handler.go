package handler

import (
	"net/http"

	"github.com/aluccaroni/majordodo/internal/broker"
	"github.com/aluccaroni/majordodo/internal/model"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles worker-related HTTP requests
type WorkerHandler struct {
	broker *broker.Broker
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(b *broker.Broker) *WorkerHandler {
	return &WorkerHandler{broker: b}
}

// GetWorkerList returns every known worker.
func (h *WorkerHandler) GetWorkerList(c *gin.Context) {
	workers := h.broker.Status().GetAllWorkers()
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

// GetWorker returns one worker, status rendered as a string.
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	worker := h.broker.Status().GetWorkerStatus(workerID)
	if worker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}

	c.JSON(http.StatusOK, model.WorkerStatusView{
		ID:               worker.WorkerID,
		Location:         worker.Location,
		ProcessID:        worker.ProcessID,
		LastConnectionTs: worker.LastConnectionTs,
		Status:           model.WorkerStatusString(worker.Status),
	})
}
