package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"plantdoc-server-go/src/blob"
	"plantdoc-server-go/src/capture"
	"plantdoc-server-go/src/classifier"
	"plantdoc-server-go/src/classify"
	"plantdoc-server-go/src/configs"
	"plantdoc-server-go/src/configs/database"
	"plantdoc-server-go/src/core/auth"
	"plantdoc-server-go/src/core/utils"
	"plantdoc-server-go/src/history"
	"plantdoc-server-go/src/models"
	"plantdoc-server-go/src/pipeline"
	"plantdoc-server-go/src/server"
	"plantdoc-server-go/src/task"

	// 导入所有providers以确保init函数被调用
	_ "plantdoc-server-go/src/classifier/provider/ollama"
	_ "plantdoc-server-go/src/classifier/provider/openai"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

func InitDatabase(logger *utils.Logger) (*gorm.DB, error) {
	db, dbType, err := database.InitDB()
	if err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("数据库连接成功, 类型: %s", dbType))

	// 自动迁移业务表
	if err := db.AutoMigrate(&models.User{}, &models.HistoryRecord{}, &models.Feedback{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %v", err)
	}
	return db, nil
}

func StartHttpServer(config *configs.Config, logger *utils.Logger, db *gorm.DB,
	taskPool *task.Pool, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	// 分类服务
	classifierService, err := classifier.NewService(config, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("分类服务初始化失败: %v", err))
		return nil, err
	}
	if err := classifierService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error(fmt.Sprintf("分类服务启动失败: %v", err))
		return nil, err
	}

	// 身份服务
	authToken := auth.NewAuthToken(config.Server.Secret)
	identityService := auth.NewIdentityService(db, authToken, logger)

	// 历史存储与文件存储
	store := history.NewStore(db, logger)
	blobs, err := blob.NewStore(config, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("文件存储初始化失败: %v", err))
		return nil, err
	}

	// 诊断主流程：采集→提交→异步入库
	captureProvider := capture.NewProvider(config, logger, nil)
	submitClient := classify.NewClient(config, logger)
	diagnosePipeline := pipeline.New(captureProvider, submitClient, store, taskPool, logger)

	// 应用HTTP服务
	httpService := server.NewHTTPService(config, logger, identityService, store, blobs, diagnosePipeline, db)
	if err := httpService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error(fmt.Sprintf("应用HTTP服务启动失败: %v", err))
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://0.0.0.0:%d", config.Server.Port))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			// 创建关闭超时上下文
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error(fmt.Sprintf("HTTP服务关闭失败: %v", err))
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("HTTP 服务启动失败: %v", err))
			return err
		}
		return nil
	})

	return httpServer, nil
}

func main() {
	// 加载环境变量
	godotenv.Load()

	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置和日志失败:", err)
		os.Exit(1)
	}
	defer logger.Close()

	db, err := InitDatabase(logger)
	if err != nil {
		logger.Error(fmt.Sprintf("初始化数据库失败: %v", err))
		os.Exit(1)
	}

	// 异步任务池（历史写入等）
	taskPool := task.NewPool(4)
	taskPool.Start()
	defer taskPool.Stop()

	// 信号处理上下文
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	if _, err := StartHttpServer(config, logger, db, taskPool, g, groupCtx); err != nil {
		logger.Error(fmt.Sprintf("启动HTTP服务失败: %v", err))
		os.Exit(1)
	}

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("服务运行出错: %v", err))
		os.Exit(1)
	}

	logger.Info("所有服务已退出")
}
