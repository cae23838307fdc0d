// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guptaai/internal/config"
	"guptaai/internal/handler"
	"guptaai/internal/middleware"
	"guptaai/internal/pipeline"
	"guptaai/internal/repository"
	"guptaai/internal/service"
	"guptaai/internal/visibility"
	"guptaai/pkg/database"
	"guptaai/pkg/kafka"
	"guptaai/pkg/llm"
	"guptaai/pkg/log"
	"guptaai/pkg/storage"
	"guptaai/pkg/tika"
	"guptaai/pkg/token"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("GUPTA_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	blacklist := repository.NewTokenBlacklistRepository(database.RDB)
	personaRepo := repository.NewPersonaRepository(database.RDB)
	ocrLogRepo := repository.NewOCRLogRepository(database.DB)
	tabCache := newTabCache(cfg.TabCache)
	archive, closeArchive := newArchive(cfg.Archive)
	defer closeArchive()

	// 5. 初始化 OCR 日志管道：启用 Kafka 时异步消费，否则直接写库
	processor := pipeline.NewProcessor(ocrLogRepo)
	var publisher pipeline.Publisher = pipeline.NewDirectPublisher(processor)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publisher = producer
		go kafka.NewConsumer(cfg.Kafka, processor, database.RDB).Run(bgCtx)
	}

	var objects storage.ObjectStore
	if cfg.MinIO.Enabled {
		store, err := storage.NewMinIOStore(bgCtx, cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		objects = store
	}

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepository, blacklist, jwtManager, cfg.Auth.AdminEmails)
	personaService := service.NewPersonaService(cfg.Chat, personaRepo)
	tabService := service.NewTabService(tabCache, archive, visibility.RealClock(), cfg.Chat.AutoClearAfter)
	chatService := service.NewChatService(llmClient, personaService, cfg.LLM, cfg.Chat)
	historyService := service.NewHistoryService(archive, tabCache)
	ocrService := service.NewOCRService(tika.NewClient(cfg.Tika), objects, publisher)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 8. 注册路由
	handler.RegisterRoutes(r, handler.Dependencies{
		UserService:    userService,
		HistoryService: historyService,
		TabService:     tabService,
		ChatService:    chatService,
		OCRService:     ocrService,
		PersonaService: personaService,
		JWTManager:     jwtManager,
		Blacklist:      blacklist,
		LLMConfig:      cfg.LLM,
		ChatConfig:     cfg.Chat,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	// Shutdown 不会关闭已升级的 WebSocket 连接，这里停止所有标签页的计时器
	tabService.CloseAll()
	cancelBg()
	log.Info("服务已优雅关闭")
}

// newTabCache 按配置选择标签页缓存的实现。
func newTabCache(cfg config.TabCacheConfig) repository.ConversationStore {
	switch cfg.Driver {
	case "memory":
		log.Warnw("标签页缓存使用内存实现，重启后丢失", "driver", cfg.Driver)
		return repository.NewMemoryStore(cfg.MaxPayloadBytes)
	case "redis", "":
		return repository.NewRedisTabCache(database.RDB, cfg.TTL, cfg.MaxPayloadBytes)
	default:
		log.Fatalf("未知的 tab_cache.driver: %s", cfg.Driver)
		return nil
	}
}

// newArchive 按配置选择账号归档的实现，返回的函数用于释放资源。
func newArchive(cfg config.ArchiveConfig) (repository.ConversationStore, func()) {
	switch cfg.Driver {
	case "mysql", "":
		return repository.NewGormArchive(database.DB, cfg.MaxPayloadBytes), func() {}
	case "bolt":
		db, err := database.OpenBolt(cfg.BoltPath)
		if err != nil {
			log.Fatal("打开 bolt 归档失败", err)
		}
		store, err := repository.NewBoltArchive(db, cfg.MaxPayloadBytes)
		if err != nil {
			log.Fatal("初始化 bolt 归档失败", err)
		}
		return store, func() { _ = db.Close() }
	case "memory":
		log.Warnw("账号归档使用内存实现，重启后丢失", "driver", cfg.Driver)
		return repository.NewMemoryStore(cfg.MaxPayloadBytes), func() {}
	default:
		log.Fatalf("未知的 archive.driver: %s", cfg.Driver)
		return nil, func() {}
	}
}
