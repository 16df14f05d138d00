package router

import (
	"github.com/aluccaroni/majordodo/app/handler"
	"github.com/aluccaroni/majordodo/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	taskHandler   *handler.TaskHandler
	workerHandler *handler.WorkerHandler
}

// NewRouter creates a new Router
func NewRouter(taskHandler *handler.TaskHandler, workerHandler *handler.WorkerHandler) *Router {
	return &Router{
		taskHandler:   taskHandler,
		workerHandler: workerHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api")
	{
		api.POST("/tasks", r.taskHandler.Submit)
		api.GET("/tasks", r.taskHandler.ListTasks)
		api.GET("/tasks/:task_id", r.taskHandler.Status)

		api.GET("/workers", r.workerHandler.GetWorkerList)
		api.GET("/workers/:worker_id", r.workerHandler.GetWorker)
	}
}
