package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/chunker"
	"github.com/xxxsen/pdfchat/internal/config"
	"github.com/xxxsen/pdfchat/internal/filestore"
	"github.com/xxxsen/pdfchat/internal/handler"
	"github.com/xxxsen/pdfchat/internal/job"
	"github.com/xxxsen/pdfchat/internal/middleware"
	"github.com/xxxsen/pdfchat/internal/repo"
	"github.com/xxxsen/pdfchat/internal/schedule"
	"github.com/xxxsen/pdfchat/internal/service"
	"github.com/xxxsen/pdfchat/internal/session"
	"github.com/xxxsen/pdfchat/internal/vectorstore"
)

func main() {
	var (
		configPath string
		envFile    string
	)

	rootCmd := &cobra.Command{
		Use:   "pdfchat",
		Short: "pdf question answering backend",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run pdfchat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cfg)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with provider secrets")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config) error {
	ctx := context.Background()
	logutil.GetLogger(ctx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("session_store", cfg.SessionStore.Type),
	)

	db, err := repo.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	modelDir, err := filestore.NewLocalStore(cfg.ModelDir)
	if err != nil {
		return fmt.Errorf("init model dir: %w", err)
	}
	index, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	defer index.Close()
	sessions, err := session.New(cfg.SessionStore)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	defer sessions.Close()
	splitter, err := chunker.New(chunker.Config{ChunkSize: cfg.Retrieval.ChunkSize, ChunkOverlap: cfg.Retrieval.ChunkOverlap})
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}

	backends := &service.Backends{
		Hosted: service.NewBackend(ctx, cfg.Hosted, cfg.EmbedCache),
		Local:  service.NewBackend(ctx, cfg.Local, cfg.EmbedCache),
	}
	modelService := service.NewModelService(*cfg.ModelDefaults, modelDir, cfg.Upload.MaxModelSize)
	sessionService := service.NewSessionService(sessions)
	documentService := service.NewDocumentService(repo.NewDocumentRepo(db), files, index, splitter, backends, modelService, sessionService)
	chatService := service.NewChatService(modelService, sessionService, documentService, index, backends, service.ChatOptions{
		TopK:         cfg.Retrieval.TopK,
		Timeout:      time.Duration(cfg.Chat.TimeoutSeconds) * time.Second,
		HistoryTurns: cfg.Chat.HistoryTurns,
	})

	scheduler := schedule.New()
	if cfg.DocumentGC.RetentionHours > 0 {
		gc := job.NewDocumentGCJob(documentService, sessionService, time.Duration(cfg.DocumentGC.RetentionHours)*time.Hour)
		if err := scheduler.Add(gc, cfg.DocumentGC.Spec); err != nil {
			return fmt.Errorf("schedule document gc: %w", err)
		}
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logutil.GetLogger(ctx).Warn("scheduler stop timed out", zap.Error(err))
		}
	}()

	deps := handler.RouterDeps{
		PDF:           handler.NewPDFHandler(documentService, cfg.Upload),
		Model:         handler.NewModelHandler(modelService, cfg.Upload.MaxModelSize),
		Session:       handler.NewSessionHandler(sessionService),
		Chat:          handler.NewChatHandler(chatService),
		ChatRateLimit: time.Duration(cfg.RateLimit.ChatIntervalMillis) * time.Millisecond,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.AllowedOrigins),
			middleware.RequestID(),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{handler.ChatStreamPath})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening",
		zap.String("addr", addr),
		zap.String("model_dir", filepath.Clean(cfg.ModelDir)),
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
		logutil.GetLogger(ctx).Info("server stopping...")
		return nil
	case err := <-errCh:
		logutil.GetLogger(ctx).Error("server error", zap.Error(err))
		return err
	}
}
