package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/utils"
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

func newTestProvider(t *testing.T, cameraCommand, libraryDir string, picker Picker) *Provider {
	t.Helper()
	config := &configs.Config{}
	config.Capture.CameraCommand = cameraCommand
	config.Capture.SpoolDir = t.TempDir()
	config.Capture.LibraryDir = libraryDir
	return NewProvider(config, newTestLogger(t), picker)
}

func TestCaptureFromCamera_命令出片(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.jpg")
	if err := os.WriteFile(src, []byte{0xFF, 0xD8, 0xFF}, 0644); err != nil {
		t.Fatalf("写源文件失败: %v", err)
	}

	p := newTestProvider(t, "cp "+src+" {output}", "", nil)
	handle, err := p.CaptureFromCamera(context.Background())
	if err != nil {
		t.Fatalf("拍照失败: %v", err)
	}
	if handle.Format != "jpeg" {
		t.Errorf("Format = %q, want jpeg", handle.Format)
	}
	if _, err := os.Stat(handle.Path); err != nil {
		t.Errorf("出片文件不存在: %v", err)
	}
}

func TestCaptureFromCamera_命令非零退出视为用户取消(t *testing.T) {
	p := newTestProvider(t, "false", "", nil)
	_, err := p.CaptureFromCamera(context.Background())
	if !errors.Is(err, ErrUserCancelled) {
		t.Errorf("err = %v, want ErrUserCancelled", err)
	}
}

func TestCaptureFromCamera_命令成功但没有出片(t *testing.T) {
	p := newTestProvider(t, "true", "", nil)
	_, err := p.CaptureFromCamera(context.Background())
	if !errors.Is(err, ErrUserCancelled) {
		t.Errorf("err = %v, want ErrUserCancelled", err)
	}
}

func TestCaptureFromLibrary_默认选最新的一张(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.png")
	newest := filepath.Join(dir, "newest.jpg")
	for _, path := range []string{old, newest} {
		if err := os.WriteFile(path, []byte("img"), 0644); err != nil {
			t.Fatalf("写文件失败: %v", err)
		}
	}
	// 非图片文件和子目录都要被过滤掉
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "sub"), 0755)

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("修改时间失败: %v", err)
	}

	p := newTestProvider(t, "", dir, nil)
	handle, err := p.CaptureFromLibrary(context.Background())
	if err != nil {
		t.Fatalf("选图失败: %v", err)
	}
	if handle.Path != newest {
		t.Errorf("Path = %q, want %q", handle.Path, newest)
	}
	if handle.Format != "jpeg" {
		t.Errorf("Format = %q, want jpeg", handle.Format)
	}
}

func TestCaptureFromLibrary_自定义picker(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	os.WriteFile(a, []byte("img"), 0644)
	os.WriteFile(b, []byte("img"), 0644)

	picker := func(candidates []string) string {
		if len(candidates) != 2 {
			t.Errorf("候选数 = %d, want 2", len(candidates))
		}
		return b
	}

	p := newTestProvider(t, "", dir, picker)
	handle, err := p.CaptureFromLibrary(context.Background())
	if err != nil {
		t.Fatalf("选图失败: %v", err)
	}
	if handle.Path != b {
		t.Errorf("Path = %q, want %q", handle.Path, b)
	}
	if handle.Format != "png" {
		t.Errorf("Format = %q, want png", handle.Format)
	}
}

func TestCaptureFromLibrary_取消场景(t *testing.T) {
	t.Run("相册为空", func(t *testing.T) {
		p := newTestProvider(t, "", t.TempDir(), nil)
		_, err := p.CaptureFromLibrary(context.Background())
		if !errors.Is(err, ErrUserCancelled) {
			t.Errorf("err = %v, want ErrUserCancelled", err)
		}
	})

	t.Run("picker返回空", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "a.png"), []byte("img"), 0644)
		p := newTestProvider(t, "", dir, func([]string) string { return "" })
		_, err := p.CaptureFromLibrary(context.Background())
		if !errors.Is(err, ErrUserCancelled) {
			t.Errorf("err = %v, want ErrUserCancelled", err)
		}
	})

	t.Run("上下文已取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := newTestProvider(t, "", t.TempDir(), nil)
		_, err := p.CaptureFromLibrary(ctx)
		if !errors.Is(err, ErrUserCancelled) {
			t.Errorf("err = %v, want ErrUserCancelled", err)
		}
	})
}
