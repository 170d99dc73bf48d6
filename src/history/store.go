package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrUnauthenticated 没有可用身份时范围查询和写入都无法进行
var ErrUnauthenticated = errors.New("未认证，无法访问历史记录")

// Delivery 一次订阅投递：当前身份下的完整记录集
// 查询失败时降级为空集合并附带非致命错误，订阅本身继续存活
type Delivery struct {
	Records []models.HistoryRecord
	Err     error
}

// Subscription 历史记录的持续订阅
// 由当前消费方独占持有，不再需要时必须调用Release释放
type Subscription struct {
	identity string
	ch       chan Delivery
	store    *Store
	released bool
}

// Updates 投递通道，Release后关闭
func (s *Subscription) Updates() <-chan Delivery {
	return s.ch
}

// Release 释放订阅，幂等；释放后不会再有任何投递
func (s *Subscription) Release() {
	s.store.unsubscribe(s)
}

// Store 历史记录存储
// 只追加写入，按身份做范围实时查询；记录写入后不可变
type Store struct {
	db     *gorm.DB
	logger *utils.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewStore 创建历史记录存储
func NewStore(db *gorm.DB, logger *utils.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Record 追加一条历史记录并通知该身份的所有订阅
// 返回错误供调用方观察，即使上层选择不阻塞等待也至少要记日志
func (s *Store) Record(ctx context.Context, ownerIdentity string, result datatypes.JSON, model, language string) error {
	if ownerIdentity == "" {
		return ErrUnauthenticated
	}

	record := models.HistoryRecord{
		OwnerIdentity: ownerIdentity,
		Result:        result,
		Model:         model,
		Language:      language,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("写入历史记录失败: %w", err)
	}

	s.notify(ownerIdentity)
	return nil
}

// List 返回该身份的全部历史记录，按写入顺序
func (s *Store) List(ctx context.Context, ownerIdentity string) ([]models.HistoryRecord, error) {
	if ownerIdentity == "" {
		return nil, ErrUnauthenticated
	}

	var records []models.HistoryRecord
	err := s.db.WithContext(ctx).
		Where("owner_identity = ?", ownerIdentity).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询历史记录失败: %w", err)
	}
	return records, nil
}

// Subscribe 建立范围实时查询
// 首次投递当前完整结果集（可能为空，不是错误），之后每次写入重新投递完整集合
func (s *Store) Subscribe(ownerIdentity string) (*Subscription, error) {
	if ownerIdentity == "" {
		return nil, ErrUnauthenticated
	}

	sub := &Subscription{
		identity: ownerIdentity,
		ch:       make(chan Delivery, 32),
		store:    s,
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.deliverLocked(sub)
	s.mu.Unlock()

	return sub, nil
}

// notify 为该身份的每个订阅重新投递完整结果集
func (s *Store) notify(ownerIdentity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.identity == ownerIdentity {
			s.deliverLocked(sub)
		}
	}
}

// deliverLocked 查询快照并投递，持有s.mu时调用
// 每次投递都是完整集合，缓冲满时挤掉最旧的一次，最新快照必定入队
func (s *Store) deliverLocked(sub *Subscription) {
	if sub.released {
		return
	}

	var delivery Delivery
	records, err := s.snapshot(sub.identity)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("历史订阅快照查询失败，降级为空集合: %v", err))
		delivery = Delivery{Records: []models.HistoryRecord{}, Err: err}
	} else {
		delivery = Delivery{Records: records}
	}

	select {
	case sub.ch <- delivery:
		return
	default:
	}

	// 挤掉最旧的快照腾出位置；发送端只有这里一处且持有s.mu，腾位后必定能入队
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- delivery:
	default:
	}
	s.logger.Warn("历史订阅消费过慢，已用最新快照顶替最旧的一次投递")
}

// snapshot 当前身份的完整记录集，主键升序保证投递顺序稳定
func (s *Store) snapshot(ownerIdentity string) ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord
	err := s.db.
		Where("owner_identity = ?", ownerIdentity).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	return records, nil
}

// unsubscribe 移除订阅并关闭通道
func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.released {
		return
	}
	sub.released = true
	delete(s.subs, sub)
	close(sub.ch)
}
