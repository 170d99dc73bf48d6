package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"plantdoc-server-go/src/capture"
	"plantdoc-server-go/src/classify"
	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/auth"
	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/history"
	"plantdoc-server-go/src/models"
	"plantdoc-server-go/src/task"

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

func newTestPipeline(t *testing.T, endpoint string) (*Pipeline, *history.Store) {
	t.Helper()
	return newTestPipelineDB(t, endpoint, "file::memory:?cache=shared")
}

func newTestPipelineDB(t *testing.T, endpoint, dsn string) (*Pipeline, *history.Store) {
	t.Helper()
	logger := newTestLogger(t)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&models.HistoryRecord{}); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	db.Exec("DELETE FROM chats")

	config := &configs.Config{}
	config.Classify.Endpoint = endpoint
	config.Capture.LibraryDir = t.TempDir()

	store := history.NewStore(db, logger)
	pool := task.NewPool(2)
	pool.Start()
	t.Cleanup(pool.Stop)

	provider := capture.NewProvider(config, logger, nil)
	client := classify.NewClient(config, logger)
	return New(provider, client, store, pool, logger), store
}

func writeTestImage(t *testing.T) *capture.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaf.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01}, 0644); err != nil {
		t.Fatalf("写测试图片失败: %v", err)
	}
	return &capture.Handle{Path: path, Format: "jpeg"}
}

// waitForRecords 轮询等待异步历史写入落库
func waitForRecords(t *testing.T, store *history.Store, identity string, want int) []models.HistoryRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		records, err := store.List(context.Background(), identity)
		if err != nil {
			t.Fatalf("List失败: %v", err)
		}
		if len(records) >= want {
			return records
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("等待 %d 条历史记录超时", want)
	return nil
}

func TestSubmit_成功后历史记录恰好写入一次(t *testing.T) {
	responseBody := `{"disease_name":"Aphid","causes":"sap-sucking insects"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(responseBody))
	}))
	defer server.Close()

	p, store := newTestPipeline(t, server.URL)
	identity := auth.Identity{UserID: 9, Email: "farmer@example.com"}

	result, err := p.Submit(context.Background(), identity, classify.Request{
		Handle:   writeTestImage(t),
		Model:    "gpt-3.5-turbo",
		Language: "english",
	})
	if err != nil {
		t.Fatalf("Submit失败: %v", err)
	}
	if name, _ := result.Get("disease_name"); name != "Aphid" {
		t.Errorf("disease_name = %q", name)
	}

	records := waitForRecords(t, store, identity.Key(), 1)
	if len(records) != 1 {
		t.Fatalf("记录数 = %d, want 1", len(records))
	}
	got := records[0]
	if got.OwnerIdentity != "u9" {
		t.Errorf("OwnerIdentity = %q, want u9", got.OwnerIdentity)
	}
	if string(got.Result) != responseBody {
		t.Errorf("落库结果 = %s, want %s", got.Result, responseBody)
	}
	if got.Model != "gpt-3.5-turbo" || got.Language != "english" {
		t.Errorf("选择器落库不符: %+v", got)
	}

	// 不应出现第二条
	time.Sleep(100 * time.Millisecond)
	records, _ = store.List(context.Background(), identity.Key())
	if len(records) != 1 {
		t.Errorf("记录数 = %d, want 1", len(records))
	}
}

func TestSubmit_失败时不写历史(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, store := newTestPipeline(t, server.URL)
	identity := auth.Identity{UserID: 3, Email: "farmer@example.com"}

	_, err := p.Submit(context.Background(), identity, classify.Request{
		Handle:   writeTestImage(t),
		Model:    "gpt-3.5-turbo",
		Language: "english",
	})

	var classErr *classify.ClassificationError
	if !errors.As(err, &classErr) {
		t.Fatalf("err = %v, want ClassificationError", err)
	}
	if classErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", classErr.StatusCode)
	}

	time.Sleep(200 * time.Millisecond)
	records, listErr := store.List(context.Background(), identity.Key())
	if listErr != nil {
		t.Fatalf("List失败: %v", listErr)
	}
	if len(records) != 0 {
		t.Errorf("失败的诊断不应入库，记录数 = %d", len(records))
	}
}

func TestSubmit_写入失败不影响结果返回(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"disease_name":"Rust"}`))
	}))
	defer server.Close()

	p, _ := newTestPipeline(t, server.URL)
	// 空身份会让异步写入失败，但结果仍然立即返回
	result, err := p.Submit(context.Background(), auth.Identity{}, classify.Request{
		Handle:   writeTestImage(t),
		Model:    "gpt-3.5-turbo",
		Language: "english",
	})
	if err != nil {
		t.Fatalf("Submit失败: %v", err)
	}
	if name, _ := result.Get("disease_name"); name != "Rust" {
		t.Errorf("disease_name = %q", name)
	}
}

func TestSubmit_多个流程实例写入各自的存储(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"disease_name":"Mildew"}`))
	}))
	defer server.Close()

	// 两套独立数据库，验证写入只落在提交方自己的存储里
	pipeA, storeA := newTestPipelineDB(t, server.URL, "file:pipeA?mode=memory&cache=shared")
	_, storeB := newTestPipelineDB(t, server.URL, "file:pipeB?mode=memory&cache=shared")

	identity := auth.Identity{UserID: 7, Email: "farmer@example.com"}
	if _, err := pipeA.Submit(context.Background(), identity, classify.Request{
		Handle:   writeTestImage(t),
		Model:    "gpt-3.5-turbo",
		Language: "english",
	}); err != nil {
		t.Fatalf("Submit失败: %v", err)
	}

	records := waitForRecords(t, storeA, identity.Key(), 1)
	if string(records[0].Result) != `{"disease_name":"Mildew"}` {
		t.Errorf("落库结果 = %s", records[0].Result)
	}

	others, err := storeB.List(context.Background(), identity.Key())
	if err != nil {
		t.Fatalf("List失败: %v", err)
	}
	if len(others) != 0 {
		t.Errorf("写入串到了别的存储，记录数 = %d", len(others))
	}
}

func TestCapture_按来源分发(t *testing.T) {
	p, _ := newTestPipeline(t, "http://127.0.0.1:0")

	// 相册为空视为用户取消
	if _, err := p.Capture(context.Background(), SourceLibrary); !errors.Is(err, capture.ErrUserCancelled) {
		t.Errorf("err = %v, want ErrUserCancelled", err)
	}

	// 拍照命令未配置
	if _, err := p.Capture(context.Background(), SourceCamera); err == nil {
		t.Error("未配置拍照命令时应返回错误")
	}
}
