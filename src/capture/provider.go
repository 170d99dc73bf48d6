package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/core/utils"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied 设备或目录权限不足
	ErrPermissionDenied = errors.New("没有访问权限")
	// ErrUserCancelled 用户中止了拍照或选图
	ErrUserCancelled = errors.New("用户取消了操作")
)

// Handle 本地图片句柄
type Handle struct {
	Path   string // 本地文件路径
	Format string // 扩展名推断的格式
}

// Picker 从相册候选文件中选择一张，返回空字符串表示用户取消
type Picker func(candidates []string) string

// Provider 图片采集器：拍照或从相册选图
// 采集失败不重试，是否再次发起由调用方决定
type Provider struct {
	config *configs.Config
	logger *utils.Logger
	picker Picker
}

// NewProvider 创建图片采集器
// picker为nil时默认选择相册中最新的一张
func NewProvider(config *configs.Config, logger *utils.Logger, picker Picker) *Provider {
	return &Provider{
		config: config,
		logger: logger,
		picker: picker,
	}
}

// CaptureFromCamera 调用配置的拍照命令生成一张照片
func (p *Provider) CaptureFromCamera(ctx context.Context) (*Handle, error) {
	command := p.config.Capture.CameraCommand
	if command == "" {
		return nil, fmt.Errorf("未配置拍照命令")
	}

	spoolDir := p.config.Capture.SpoolDir
	if spoolDir == "" {
		spoolDir = filepath.Join("tmp", "captures")
	}
	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("创建拍照输出目录失败: %v", err)
	}

	output := filepath.Join(spoolDir, fmt.Sprintf("capture_%s.jpg", uuid.New().String()))

	// {output}占位符替换为目标文件路径
	parts := strings.Fields(command)
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(part, "{output}", output)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if err := cmd.Run(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 拍照程序被用户关掉而没有出片
			p.logger.Info(fmt.Sprintf("拍照命令退出(code=%d)，视为用户取消", exitErr.ExitCode()))
			return nil, ErrUserCancelled
		}
		return nil, fmt.Errorf("执行拍照命令失败: %v", err)
	}

	if _, err := os.Stat(output); err != nil {
		return nil, ErrUserCancelled
	}

	p.logger.Info(fmt.Sprintf("拍照成功: %s", output))
	return &Handle{Path: output, Format: "jpeg"}, nil
}

// CaptureFromLibrary 从相册目录中选择一张图片
func (p *Provider) CaptureFromLibrary(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUserCancelled
	}

	libraryDir := p.config.Capture.LibraryDir
	if libraryDir == "" {
		return nil, fmt.Errorf("未配置相册目录")
	}

	entries, err := os.ReadDir(libraryDir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("读取相册目录失败: %v", err)
	}

	candidates := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isImageFileName(entry.Name()) {
			candidates = append(candidates, filepath.Join(libraryDir, entry.Name()))
		}
	}

	if len(candidates) == 0 {
		return nil, ErrUserCancelled
	}

	selected := p.pick(candidates)
	if selected == "" {
		return nil, ErrUserCancelled
	}

	// 确认文件可读
	f, err := os.Open(selected)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("打开选中图片失败: %v", err)
	}
	f.Close()

	p.logger.Info(fmt.Sprintf("从相册选中图片: %s", selected))
	return &Handle{Path: selected, Format: formatFromName(selected)}, nil
}

// pick 交给picker选择，未配置时取最新修改的一张
func (p *Provider) pick(candidates []string) string {
	if p.picker != nil {
		return p.picker(candidates)
	}

	sort.Slice(candidates, func(i, j int) bool {
		fi, err1 := os.Stat(candidates[i])
		fj, err2 := os.Stat(candidates[j])
		if err1 != nil || err2 != nil {
			return candidates[i] < candidates[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return candidates[0]
}

func isImageFileName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return true
	}
	return false
}

func formatFromName(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "jpg" {
		return "jpeg"
	}
	return ext
}
