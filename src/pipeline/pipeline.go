package pipeline

import (
	"context"
	"fmt"

	"plantdoc-server-go/src/capture"
	"plantdoc-server-go/src/classify"
	"plantdoc-server-go/src/core/auth"
	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/history"
	"plantdoc-server-go/src/task"

	"gorm.io/datatypes"
)

// TaskHistoryWrite 诊断成功后的历史写入任务类型
const TaskHistoryWrite task.Type = "history_write"

// Source 图片来源
type Source int

const (
	SourceCamera Source = iota
	SourceLibrary
)

// historyWriteParams 历史写入任务参数
// 目标存储随任务传递，执行器本身无状态，多个流程实例互不串扰
type historyWriteParams struct {
	store    *history.Store
	identity string
	result   *classify.Result
	model    string
	language string
}

func init() {
	task.RegisterExecutor(TaskHistoryWrite, func(t *task.Task) error {
		params, ok := t.Params.(*historyWriteParams)
		if !ok {
			return fmt.Errorf("非法的任务参数类型: %T", t.Params)
		}
		return params.store.Record(t.Context, params.identity,
			datatypes.JSON(params.result.JSON()), params.model, params.language)
	})
}

// writeCallback 历史写入结果回调
// 写入失败不打断用户流程，但必须落到日志里，不允许静默丢失
type writeCallback struct {
	logger   *utils.Logger
	identity string
}

func (c *writeCallback) OnComplete(t *task.Task) {
	c.logger.Info(fmt.Sprintf("历史记录写入成功: identity=%s task=%s", c.identity, t.ID))
}

func (c *writeCallback) OnError(t *task.Task, err error) {
	c.logger.Error(fmt.Sprintf("历史记录写入失败: identity=%s task=%s err=%v", c.identity, t.ID, err))
}

// Pipeline 采集→提交→入库→展示 主流程
// 展示结果与历史写入互不等待：结果立即返回给调用方，写入走异步任务
type Pipeline struct {
	provider *capture.Provider
	client   *classify.Client
	store    *history.Store
	pool     *task.Pool
	logger   *utils.Logger
}

// New 创建诊断流程
func New(provider *capture.Provider, client *classify.Client, store *history.Store, pool *task.Pool, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		provider: provider,
		client:   client,
		store:    store,
		pool:     pool,
		logger:   logger,
	}
}

// Capture 按来源获取一张图片
func (p *Pipeline) Capture(ctx context.Context, source Source) (*capture.Handle, error) {
	if source == SourceCamera {
		return p.provider.CaptureFromCamera(ctx)
	}
	return p.provider.CaptureFromLibrary(ctx)
}

// Submit 提交诊断并异步写入历史
// 身份显式传入，不读取任何全局登录状态；历史写入不阻塞结果返回
func (p *Pipeline) Submit(ctx context.Context, identity auth.Identity, req classify.Request) (*classify.Result, error) {
	result, err := p.client.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	p.enqueueHistoryWrite(identity, result, req.Model, req.Language)
	return result, nil
}

// enqueueHistoryWrite 把历史写入排进任务池
// 入队失败与写入失败同样走日志侧通道
func (p *Pipeline) enqueueHistoryWrite(identity auth.Identity, result *classify.Result, model, language string) {
	t := task.NewTask(context.Background(), TaskHistoryWrite, &historyWriteParams{
		store:    p.store,
		identity: identity.Key(),
		result:   result,
		model:    model,
		language: language,
	})
	t.Callback = &writeCallback{logger: p.logger, identity: identity.Key()}

	if err := p.pool.Submit(t); err != nil {
		p.logger.Error(fmt.Sprintf("历史写入任务入队失败: identity=%s err=%v", identity.Key(), err))
	}
}
