package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ip-sentry/backend/internal/logger"
)

// TaskManager runs registered maintenance tasks on fixed intervals.
type TaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	tasks  map[string]*Task
	mu     sync.RWMutex
}

// Task is one periodic maintenance job.
type Task struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context) error
	Running  bool
	LastRun  time.Time
	LastErr  error
}

// TaskStatus is the externally visible state of one task.
type TaskStatus struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	LastRun time.Time `json:"last_run"`
	LastErr string    `json:"last_error,omitempty"`
}

var (
	manager *TaskManager
	once    sync.Once
)

// GetManager returns the process-wide task manager.
func GetManager() *TaskManager {
	once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		manager = &TaskManager{
			ctx:    ctx,
			cancel: cancel,
			tasks:  make(map[string]*Task),
		}
	})
	return manager
}

// Register adds a task. Registered tasks start with Start.
func (m *TaskManager) Register(name string, interval time.Duration, handler func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[name] = &Task{
		Name:     name,
		Interval: interval,
		Handler:  handler,
	}
	logger.Info("background task registered", zap.String("task", name), zap.Duration("interval", interval))
}

// Start launches every registered task loop.
func (m *TaskManager) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logger.Info("starting background tasks", zap.Int("task_count", len(m.tasks)))
	for name, task := range m.tasks {
		m.wg.Add(1)
		go m.runTask(name, task)
	}
}

func (m *TaskManager) runTask(name string, task *Task) {
	defer m.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	m.executeTask(name, task)

	for {
		select {
		case <-m.ctx.Done():
			logger.Info("background task stopped", zap.String("task", name))
			return
		case <-ticker.C:
			m.executeTask(name, task)
		}
	}
}

func (m *TaskManager) executeTask(name string, task *Task) {
	m.mu.Lock()
	task.Running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		task.Running = false
		task.LastRun = time.Now()
		m.mu.Unlock()
	}()

	if err := task.Handler(m.ctx); err != nil {
		m.mu.Lock()
		task.LastErr = err
		m.mu.Unlock()
		logger.Error("background task failed", zap.String("task", name), zap.Error(err))
	}
}

// Stop cancels all task loops and waits for them to exit.
func (m *TaskManager) Stop() {
	m.cancel()
	m.wg.Wait()
	logger.Info("background tasks stopped")
}

// GetStatus reports every task's state.
func (m *TaskManager) GetStatus() []TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]TaskStatus, 0, len(m.tasks))
	for _, task := range m.tasks {
		status := TaskStatus{
			Name:    task.Name,
			Running: task.Running,
			LastRun: task.LastRun,
		}
		if task.LastErr != nil {
			status.LastErr = task.LastErr.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}
