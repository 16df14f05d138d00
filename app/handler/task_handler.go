package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aluccaroni/majordodo/internal/broker"
	"github.com/aluccaroni/majordodo/internal/commitlog"
	"github.com/aluccaroni/majordodo/internal/model"
	"github.com/aluccaroni/majordodo/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	broker *broker.Broker
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(b *broker.Broker) *TaskHandler {
	return &TaskHandler{broker: b}
}

// Submit accepts a task submission. A duplicate slot yields taskId 0.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req model.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := h.broker.AddTask(req.Type, req.UserID, req.Parameter, req.MaxAttempts, req.ExecutionDeadline, req.Slot)
	if err != nil {
		if errors.Is(err, commitlog.ErrLogNotAvailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status changes log not available"})
			return
		}
		logger.Errorf("failed to add task: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.SubmitTaskResponse{TaskID: taskID})
}

// Status returns the client view of one task.
func (h *TaskHandler) Status(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	view := h.broker.Status().GetTaskStatus(taskID)
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListTasks returns the client view of every task.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks := h.broker.Status().GetAllTasks()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
