package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/canfieldjuan/finetunelab.ai-sub013/config"
	"github.com/canfieldjuan/finetunelab.ai-sub013/handlers"
	"github.com/canfieldjuan/finetunelab.ai-sub013/middleware"
	"github.com/canfieldjuan/finetunelab.ai-sub013/monitor"
	"github.com/canfieldjuan/finetunelab.ai-sub013/repository"
	"github.com/canfieldjuan/finetunelab.ai-sub013/storage"
)

func main() {
	logrus.Info("Starting training-job coordinator")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to initialize configuration: %v", err)
	}
	defer cfg.Close()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("Unknown log level %q, keeping default", cfg.LogLevel)
	}

	repo := repository.NewRepository(cfg.DB)

	// Dataset store is optional; without it claims succeed but omit the
	// presigned dataset URL.
	var datasets *storage.DatasetStore
	if cfg.MinioEndpoint != "" {
		datasets, err = storage.NewDatasetStore(storage.DatasetStoreConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logrus.Fatalf("Failed to initialize dataset store: %v", err)
		}
	}

	handler := handlers.NewHandler(repo, datasets, cfg.PollIntervalSeconds)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	// Health check (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	// Agent coordination routes: bearer credential with training scope plus
	// a well-formed X-Agent-ID header.
	agent := router.Group("/agent")
	agent.Use(middleware.AgentAuth(repo))
	{
		agent.GET("/poll", handler.Poll)
		agent.POST("/claim/:jobId", handler.Claim)
	}

	// Approval routes: any valid bearer credential.
	approvals := router.Group("/approvals")
	approvals.Use(middleware.UserAuth(repo))
	{
		approvals.POST("/:id/cancel", handler.CancelApproval)
		approvals.POST("/:id/reject", handler.RejectApproval)
	}

	queueMonitor := monitor.NewQueueMonitor(repo, time.Minute, cfg.ClaimStaleAfter)
	queueMonitor.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Graceful shutdown with 10-second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	queueMonitor.Stop()
	cfg.Close()
	logrus.Info("Server stopped gracefully")
}
