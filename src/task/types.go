package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type 异步任务类型
type Type string

// Status 任务状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Executor 任务执行函数
type Executor func(t *Task) error

// Callback 任务完成回调
// 历史写入这类"发射后不管"的操作用它把失败暴露给日志或调用方
type Callback interface {
	OnComplete(t *Task)
	OnError(t *Task, err error)
}

// registry 任务类型到执行器的映射
type registry struct {
	executors map[Type]Executor
	mu        sync.RWMutex
}

var taskRegistry = &registry{
	executors: make(map[Type]Executor),
}

// RegisterExecutor 注册任务执行器
func RegisterExecutor(taskType Type, executor Executor) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.executors[taskType] = executor
}

// getExecutor 查找任务执行器
func getExecutor(taskType Type) (Executor, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	executor, exists := taskRegistry.executors[taskType]
	return executor, exists
}

// Task 一个异步任务
type Task struct {
	ID        string
	Type      Type
	Status    Status
	Params    interface{}
	Result    interface{}
	Error     error
	Callback  Callback
	CreatedAt time.Time
	UpdatedAt time.Time
	Context   context.Context
}

// NewTask 创建任务
func NewTask(ctx context.Context, taskType Type, params interface{}) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: time.Now(),
		Context:   ctx,
	}
}

// Execute 执行任务并触发回调
func (t *Task) Execute() {
	defer func() {
		if r := recover(); r != nil {
			t.Status = StatusFailed
			t.Error = fmt.Errorf("task panicked: %v", r)
			if t.Callback != nil {
				t.Callback.OnError(t, t.Error)
			}
		}
	}()

	select {
	case <-t.Context.Done():
		// 连接已断开的任务不再执行
		return
	default:
	}

	t.Status = StatusRunning
	t.UpdatedAt = time.Now()

	executor, exists := getExecutor(t.Type)
	if !exists {
		t.Error = fmt.Errorf("no executor registered for task type: %v", t.Type)
		t.Status = StatusFailed
	} else {
		t.Error = executor(t)
	}

	if t.Error != nil {
		t.Status = StatusFailed
		if t.Callback != nil {
			t.Callback.OnError(t, t.Error)
		}
	} else {
		t.Status = StatusComplete
		if t.Callback != nil {
			t.Callback.OnComplete(t)
		}
	}
	t.UpdatedAt = time.Now()
}
