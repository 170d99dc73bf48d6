package task

import (
	"fmt"
	"sync"
)

// Pool 任务工作池
type Pool struct {
	queue    chan *Task
	stopChan chan struct{}
	workers  int
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool 创建工作池
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		queue:    make(chan *Task, workers*4),
		stopChan: make(chan struct{}),
		workers:  workers,
	}
}

// Start 启动所有工作者
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop 停止工作池，等待在执行的任务结束
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false

	close(p.stopChan)
	p.wg.Wait()
}

// Submit 提交任务，队列满或已停止时返回错误
func (p *Pool) Submit(t *Task) error {
	if _, exists := getExecutor(t.Type); !exists {
		return fmt.Errorf("task type %v is not registered", t.Type)
	}

	select {
	case <-p.stopChan:
		return fmt.Errorf("task pool is stopped")
	case p.queue <- t:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// run 单个工作者循环
func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case t := <-p.queue:
			t.Execute()
		}
	}
}
