package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// recordingCallback 记录回调结果
type recordingCallback struct {
	done chan error
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{done: make(chan error, 1)}
}

func (c *recordingCallback) OnComplete(t *Task)         { c.done <- nil }
func (c *recordingCallback) OnError(t *Task, err error) { c.done <- err }

func waitCallback(t *testing.T, c *recordingCallback) error {
	t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("等待任务回调超时")
		return nil
	}
}

func TestPool_执行任务并触发完成回调(t *testing.T) {
	var executed int64
	RegisterExecutor("测试成功", func(task *Task) error {
		atomic.AddInt64(&executed, 1)
		task.Result = "ok"
		return nil
	})

	pool := NewPool(2)
	pool.Start()
	defer pool.Stop()

	callback := newRecordingCallback()
	task := NewTask(context.Background(), "测试成功", nil)
	task.Callback = callback
	if err := pool.Submit(task); err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	if err := waitCallback(t, callback); err != nil {
		t.Errorf("回调返回错误: %v", err)
	}
	if atomic.LoadInt64(&executed) != 1 {
		t.Errorf("执行次数 = %d, want 1", executed)
	}
	if task.Status != StatusComplete {
		t.Errorf("Status = %q, want %q", task.Status, StatusComplete)
	}
	if task.Result != "ok" {
		t.Errorf("Result = %v", task.Result)
	}
}

func TestPool_执行失败触发错误回调(t *testing.T) {
	wantErr := errors.New("写入失败")
	RegisterExecutor("测试失败", func(task *Task) error {
		return wantErr
	})

	pool := NewPool(1)
	pool.Start()
	defer pool.Stop()

	callback := newRecordingCallback()
	task := NewTask(context.Background(), "测试失败", nil)
	task.Callback = callback
	if err := pool.Submit(task); err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	if err := waitCallback(t, callback); !errors.Is(err, wantErr) {
		t.Errorf("回调错误 = %v, want %v", err, wantErr)
	}
	if task.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", task.Status, StatusFailed)
	}
}

func TestPool_未注册类型拒绝提交(t *testing.T) {
	pool := NewPool(1)
	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(NewTask(context.Background(), "没有注册过", nil)); err == nil {
		t.Error("未注册的任务类型不应提交成功")
	}
}

func TestPool_任务panic被捕获(t *testing.T) {
	RegisterExecutor("测试panic", func(task *Task) error {
		panic("任务内部崩溃")
	})

	pool := NewPool(1)
	pool.Start()
	defer pool.Stop()

	callback := newRecordingCallback()
	task := NewTask(context.Background(), "测试panic", nil)
	task.Callback = callback
	if err := pool.Submit(task); err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	if err := waitCallback(t, callback); err == nil {
		t.Error("panic应转换为错误回调")
	}
	if task.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", task.Status, StatusFailed)
	}
}

func TestPool_已取消上下文的任务跳过执行(t *testing.T) {
	var executed int64
	RegisterExecutor("测试取消", func(task *Task) error {
		atomic.AddInt64(&executed, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := NewTask(ctx, "测试取消", nil)
	task.Execute()

	if atomic.LoadInt64(&executed) != 0 {
		t.Error("已取消的任务不应执行")
	}
	if task.Status != StatusPending {
		t.Errorf("Status = %q, want %q", task.Status, StatusPending)
	}
}

func TestPool_停止后拒绝提交(t *testing.T) {
	RegisterExecutor("测试停止", func(task *Task) error { return nil })

	pool := NewPool(1)
	pool.Start()
	pool.Stop()

	if err := pool.Submit(NewTask(context.Background(), "测试停止", nil)); err == nil {
		t.Error("停止后的提交不应成功")
	}
}
