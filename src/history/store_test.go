package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/models"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	config.Log.LogLevel = "INFO"

	logger, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建测试日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&models.HistoryRecord{}); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	// 每个用例从空表开始
	db.Exec("DELETE FROM chats")
	return NewStore(db, newTestLogger(t))
}

func receiveDelivery(t *testing.T, sub *Subscription) Delivery {
	t.Helper()
	select {
	case d, ok := <-sub.Updates():
		if !ok {
			t.Fatal("订阅通道已关闭")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("等待投递超时")
	}
	return Delivery{}
}

func TestStore_未认证身份被拒绝(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, "", datatypes.JSON(`{}`), "m", "english"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Record err = %v, want ErrUnauthenticated", err)
	}
	if _, err := store.List(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("List err = %v, want ErrUnauthenticated", err)
	}
	if _, err := store.Subscribe(""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Subscribe err = %v, want ErrUnauthenticated", err)
	}
}

func TestStore_首次投递为空集合(t *testing.T) {
	store := newTestStore(t)

	sub, err := store.Subscribe("u1")
	if err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	defer sub.Release()

	first := receiveDelivery(t, sub)
	if first.Err != nil {
		t.Errorf("空结果集不是错误: %v", first.Err)
	}
	if len(first.Records) != 0 {
		t.Errorf("首次投递应为空集合，收到 %d 条", len(first.Records))
	}
}

func TestStore_写入后订阅恰好收到一次新记录(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.Subscribe("u1")
	if err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	defer sub.Release()
	receiveDelivery(t, sub) // 首次空投递

	result := datatypes.JSON(`{"disease_name":"Aphid"}`)
	if err := store.Record(ctx, "u1", result, "gpt-3.5-turbo", "english"); err != nil {
		t.Fatalf("Record失败: %v", err)
	}

	second := receiveDelivery(t, sub)
	if len(second.Records) != 1 {
		t.Fatalf("投递应包含恰好1条记录，收到 %d 条", len(second.Records))
	}
	got := second.Records[0]
	if got.OwnerIdentity != "u1" || got.Model != "gpt-3.5-turbo" || got.Language != "english" {
		t.Errorf("记录字段不符: %+v", got)
	}
	if string(got.Result) != string(result) {
		t.Errorf("结果负载不符: %s", got.Result)
	}

	// 没有更多投递
	select {
	case d := <-sub.Updates():
		t.Errorf("不应再有投递: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStore_不同身份的记录互不可见(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, "u1", datatypes.JSON(`{"a":"1"}`), "m", "english"); err != nil {
		t.Fatalf("Record失败: %v", err)
	}
	if err := store.Record(ctx, "u2", datatypes.JSON(`{"b":"2"}`), "m", "english"); err != nil {
		t.Fatalf("Record失败: %v", err)
	}

	records, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List失败: %v", err)
	}
	if len(records) != 1 || records[0].OwnerIdentity != "u1" {
		t.Errorf("u1只应看到自己的1条记录: %+v", records)
	}

	sub, _ := store.Subscribe("u2")
	defer sub.Release()
	d := receiveDelivery(t, sub)
	if len(d.Records) != 1 || d.Records[0].OwnerIdentity != "u2" {
		t.Errorf("u2的订阅只应包含自己的记录: %+v", d.Records)
	}
}

func TestStore_List按写入顺序返回(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payloads := []string{`{"n":"第一"}`, `{"n":"第二"}`, `{"n":"第三"}`}
	for _, p := range payloads {
		if err := store.Record(ctx, "u1", datatypes.JSON(p), "m", "english"); err != nil {
			t.Fatalf("Record失败: %v", err)
		}
	}

	records, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List失败: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("记录数 = %d, want 3", len(records))
	}
	for i, p := range payloads {
		if string(records[i].Result) != p {
			t.Errorf("第%d条 = %s, want %s", i+1, records[i].Result, p)
		}
	}
}

func TestStore_消费过慢时最新快照仍然送达(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.Subscribe("u1")
	if err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	defer sub.Release()

	// 一直不消费，写入量远超订阅缓冲
	const writes = 40
	for i := 0; i < writes; i++ {
		payload := datatypes.JSON(fmt.Sprintf(`{"n":"%d"}`, i))
		if err := store.Record(ctx, "u1", payload, "m", "english"); err != nil {
			t.Fatalf("第%d次Record失败: %v", i, err)
		}
	}

	// 清空积压，最后读到的投递必须包含全部写入
	var last Delivery
	received := false
	for {
		select {
		case d := <-sub.Updates():
			last = d
			received = true
			continue
		default:
		}
		break
	}
	if !received {
		t.Fatal("没有收到任何投递")
	}
	if len(last.Records) != writes {
		t.Fatalf("最后一次投递包含 %d 条记录, want %d", len(last.Records), writes)
	}
	if string(last.Records[writes-1].Result) != fmt.Sprintf(`{"n":"%d"}`, writes-1) {
		t.Errorf("最后一条记录 = %s", last.Records[writes-1].Result)
	}
}

func TestStore_释放后不再有任何投递(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.Subscribe("u1")
	if err != nil {
		t.Fatalf("Subscribe失败: %v", err)
	}
	receiveDelivery(t, sub)

	sub.Release()
	sub.Release() // 幂等

	if err := store.Record(ctx, "u1", datatypes.JSON(`{}`), "m", "english"); err != nil {
		t.Fatalf("Record失败: %v", err)
	}

	// 通道已关闭且为空，释放后的写入不会产生投递
	select {
	case d, ok := <-sub.Updates():
		if ok {
			t.Errorf("释放后收到投递: %+v", d)
		}
	case <-time.After(200 * time.Millisecond):
		t.Error("通道应已关闭")
	}
}
