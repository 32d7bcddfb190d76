// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/config"
	"ragchat-go/internal/handler"
	"ragchat-go/internal/middleware"
	"ragchat-go/internal/model"
	"ragchat-go/internal/pipeline"
	"ragchat-go/internal/repository"
	"ragchat-go/internal/service"
	"ragchat-go/internal/vectorstore"
	"ragchat-go/pkg/chunker"
	"ragchat-go/pkg/crawler"
	"ragchat-go/pkg/database"
	"ragchat-go/pkg/embedding"
	"ragchat-go/pkg/es"
	"ragchat-go/pkg/kafka"
	"ragchat-go/pkg/llm"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/storage"
	"ragchat-go/pkg/tika"
	"ragchat-go/pkg/token"
)

func main() {
	// 1. 初始化配置，RAGCHAT_CONFIG 可以覆盖默认路径
	configPath := os.Getenv("RAGCHAT_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化数据库、Redis 和 MinIO
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 连接失败", err)
	}
	if err := database.Migrate(db, &model.User{}, &model.Conversation{}, &model.Message{}, &model.TrainingDoc{}, &model.TrainingWebsite{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 连接失败", err)
	}
	minioClient, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	uploads := storage.NewMinIOObjectStore(minioClient, cfg.MinIO.BucketName, cfg.Storage.UploadPrefix)
	var mirror storage.MirrorStore
	if cfg.Storage.Mirror == "local" {
		local, err := storage.NewLocalMirror(cfg.Storage.LocalDir)
		if err != nil {
			log.Fatal("本地镜像目录初始化失败", err)
		}
		mirror = local
	} else {
		mirror = storage.NewMinIOMirror(minioClient, cfg.MinIO.BucketName, cfg.Storage.ProcessedPrefix)
	}

	// 4. 初始化向量索引与模型客户端
	embeddingClient, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatal("Embedding 客户端初始化失败", err)
	}
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败", err)
	}
	var index vectorstore.Index
	if cfg.Vector.Backend == "elasticsearch" {
		esClient, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
		if err := es.EnsureIndex(ctx, esClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions); err != nil {
			log.Fatal("Elasticsearch 索引创建失败", err)
		}
		index = vectorstore.NewElasticIndex(esClient, cfg.Elasticsearch.IndexName)
	} else {
		log.Warnf("使用内存向量索引，重启后知识库将丢失")
		index = vectorstore.NewMemoryIndex()
	}
	knowledge := vectorstore.NewManager(index, embeddingClient,
		chunker.New(chunker.WithChunkSize(cfg.Vector.ChunkSize), chunker.WithOverlap(cfg.Vector.ChunkOverlap)))

	// 5. 初始化爬虫
	var crawlerOpts []crawler.Option
	if crawler.CacheMode(cfg.Crawler.Cache) == crawler.CacheUse {
		crawlerOpts = append(crawlerOpts, crawler.WithCache(crawler.NewRedisCache(rdb, cfg.Crawler.CacheTTL)))
	}
	pageCrawler := crawler.New(crawler.Config{
		Cache:         crawler.CacheMode(cfg.Crawler.Cache),
		ExcludedTags:  cfg.Crawler.ExcludedTags,
		MaxDepth:      cfg.Crawler.MaxDepth,
		MaxPages:      cfg.Crawler.MaxPages,
		MaxChildLinks: cfg.Crawler.MaxChildLinks,
		Stream:        cfg.Crawler.Stream,
		ExcerptLength: cfg.Crawler.ExcerptLength,
		Timeout:       cfg.Crawler.Timeout,
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
		UserAgent:     cfg.Crawler.UserAgent,
	}, crawlerOpts...)

	// 6. 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	trainingRepo := repository.NewTrainingRepository(db)

	// 7. 初始化训练流水线与任务分发
	processor := pipeline.NewProcessor(tika.NewClient(cfg.Tika), uploads, mirror, knowledge, trainingRepo)
	var dispatcher service.TaskDispatcher
	if cfg.Ingest.Mode == "kafka" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		consumer := kafka.NewConsumer(cfg.Kafka, rdb, processor)
		go consumer.Run(ctx)
		dispatcher = producer
	} else {
		dispatcher = pipeline.NewInlineDispatcher(processor)
	}

	// 8. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	blacklist := token.NewBlacklist(rdb)
	userService := service.NewUserService(userRepo, jwtManager, blacklist, cfg.JWT.AdminEmails)
	conversationService := service.NewConversationService(conversationRepo, cfg.Chat.PlaceholderTitle)
	adminService := service.NewAdminService(userRepo, conversationRepo)
	uploadService := service.NewUploadService(uploads)
	trainingService := service.NewTrainingService(trainingRepo, uploads, mirror, knowledge, pageCrawler, dispatcher)
	chatService := service.NewChatService(pageCrawler, knowledge, llmClient, conversationRepo,
		service.ChatOptionsFromConfig(cfg.Chat, cfg.LLM.Generation))

	if cfg.Storage.SeedDir != "" {
		go seedTrainingFiles(ctx, cfg.Storage.SeedDir, uploadService, trainingService)
	}

	// 9. 设置 Gin 模式并创建路由引擎
	limiter := middleware.NewClientRateLimiter(cfg.RateLimit)
	go limiter.Run(ctx.Done())

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	authHandler := handler.NewAuthHandler(userService, cfg.JWT.AccessTokenExpireHours*3600)
	userHandler := handler.NewUserHandler(userService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	chatHandler := handler.NewChatHandler(chatService, conversationService, jwtManager, blacklist, userService)
	adminHandler := handler.NewAdminHandler(adminService)
	trainingHandler := handler.NewTrainingHandler(trainingService)
	uploadHandler := handler.NewUploadHandler(uploadService, cfg.Storage.MaxUploadBytes)
	searchHandler := handler.NewSearchHandler(knowledge)
	authRequired := middleware.AuthMiddleware(jwtManager, blacklist, userService)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth", limiter.Middleware())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users", authRequired)
		{
			users.GET("/me", userHandler.GetProfile)
			users.PATCH("/me", userHandler.UpdateProfile)
			users.POST("/logout", userHandler.Logout)
		}

		// WebSocket 通过路径中的 token 认证
		apiV1.GET("/chat/ws/:token", chatHandler.HandleWebSocket)

		chat := apiV1.Group("/chat", authRequired)
		{
			chat.POST("", limiter.Middleware(), chatHandler.NewChat)
			chat.GET("/conversations", conversationHandler.GetConversations)
			chat.POST("/:conversationId", limiter.Middleware(), chatHandler.ContinueChat)
			chat.GET("/:conversationId", conversationHandler.GetConversation)
			chat.PATCH("/:conversationId", conversationHandler.RenameConversation)
			chat.DELETE("/:conversationId", conversationHandler.DeleteConversation)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin", authRequired, middleware.AdminAuthMiddleware())
		{
			admin.POST("/upload", uploadHandler.Upload)
			admin.GET("/upload/supported-types", uploadHandler.SupportedTypes)

			admin.POST("/train/docs", trainingHandler.TrainDocument)
			admin.POST("/train/website", trainingHandler.TrainWebsite)
			admin.GET("/train/docs", trainingHandler.ListDocuments)
			admin.GET("/train/websites", trainingHandler.ListWebsites)
			admin.DELETE("/train/docs/:id", trainingHandler.DeleteDocument)
			admin.DELETE("/train/websites/:id", trainingHandler.DeleteWebsite)

			admin.GET("/search", searchHandler.Search)

			admin.GET("/users", adminHandler.ListUsers)
			admin.GET("/users/:id/conversations", adminHandler.UserConversations)
			admin.GET("/conversations/:id/messages", adminHandler.ConversationMessages)
		}
	}

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者与限流清理，并等待后台的消息持久化和标题生成完成
	cancel()
	chatService.Wait()
	log.Info("服务已优雅关闭")
}

// seedTrainingFiles 扫描目录下文件并通过标准上传 + 训练流程导入（幂等）。
func seedTrainingFiles(ctx context.Context, dir string, uploads service.UploadService, training service.TrainingService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedTrainingFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	existing, err := training.ListDocuments(ctx)
	if err != nil {
		log.Warnf("seedTrainingFiles: 读取已有训练文档失败，跳过初始化导入: %v", err)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		fileName := info.Name()
		if alreadySeeded(existing, fileName) {
			log.Infof("seedTrainingFiles: 已存在，跳过: %s", fileName)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("seedTrainingFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		res, err := uploads.Store(ctx, fileName, f, info.Size(), "")
		if err != nil {
			log.Warnf("seedTrainingFiles: 上传失败: %s, err=%v", path, err)
			return nil
		}
		if _, err := training.TrainDocument(ctx, service.TrainDocRequest{FileName: res.FileName, MimeType: res.MimeType, Size: res.Size}); err != nil {
			log.Warnf("seedTrainingFiles: 提交训练失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("seedTrainingFiles: 导入完成并已提交训练: %s", fileName)
		return nil
	})
	if walkErr != nil {
		log.Warnf("seedTrainingFiles: 遍历目录发生错误: %v", walkErr)
	}
}

// alreadySeeded 判断同名文件是否已经上传过；上传后的文件名形如 {stem}_{unix}{ext}。
func alreadySeeded(docs []model.TrainingDoc, fileName string) bool {
	ext := filepath.Ext(fileName)
	stem := strings.ReplaceAll(strings.TrimSuffix(fileName, ext), " ", "_")
	for _, d := range docs {
		if d.Status == model.StatusFailed {
			continue
		}
		if strings.HasPrefix(d.FileName, stem+"_") && strings.HasSuffix(d.FileName, ext) {
			return true
		}
	}
	return false
}
