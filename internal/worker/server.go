// Package worker runs the asynq background server that drains persistence
// and cleanup tasks enqueued by the hub.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/tasks"
)

// WorkerServer wraps the asynq server lifecycle.
type WorkerServer struct {
	server *asynq.Server
	log    *logrus.Entry

	activityRepo repository.ActivityRepository
	paramRepo    repository.ParameterRepository
	roomRepo     repository.RoomRepository
	stateRepo    repository.StateRepository
	retention    time.Duration
}

func NewWorkerServer(
	redisOpt asynq.RedisClientOpt,
	activityRepo repository.ActivityRepository,
	paramRepo repository.ParameterRepository,
	roomRepo repository.RoomRepository,
	stateRepo repository.StateRepository,
	roomRetention time.Duration,
	logger *logrus.Logger,
) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:       server,
		log:          logEntry,
		activityRepo: activityRepo,
		paramRepo:    paramRepo,
		roomRepo:     roomRepo,
		stateRepo:    stateRepo,
		retention:    roomRetention,
	}
}

// Start runs the worker server. Call it from its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	mux.HandleFunc(tasks.TypeActivityPersist, NewActivityPersistHandler(ws.activityRepo).ProcessTask)
	mux.HandleFunc(tasks.TypeParameterCheckpoint, NewParameterCheckpointHandler(ws.paramRepo).ProcessTask)
	mux.HandleFunc(tasks.TypeRoomsCleanup,
		NewRoomsCleanupHandler(ws.roomRepo, ws.paramRepo, ws.stateRepo, ws.retention).ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown gracefully stops the worker server.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
