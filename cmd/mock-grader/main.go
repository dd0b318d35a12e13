package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"proofjudge/internal/common/cache"
	commonmw "proofjudge/internal/common/http/middleware"
	"proofjudge/internal/grader/config"
	"proofjudge/internal/grader/controller"
	"proofjudge/internal/grader/repository"
	"proofjudge/internal/grader/service"
	"proofjudge/pkg/utils/logger"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/mock-grader.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	addr := flag.String("addr", "", "Override listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	gin.SetMode(gin.ReleaseMode)

	if cfg.EmbeddedRedis() {
		server, err := miniredis.Run()
		if err != nil {
			logger.Error(context.Background(), "start embedded redis failed", zap.Error(err))
			return
		}
		defer server.Close()
		cfg.Redis.Addr = server.Addr()
		logger.Info(context.Background(), "using embedded redis", zap.String("addr", server.Addr()))
	}

	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	problemRepo := repository.NewProblemRepository(redisCache)
	seeded, err := problemRepo.SeedIfEmpty(context.Background(), repository.SeedProblems()...)
	if err != nil {
		logger.Error(context.Background(), "seed problems failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "problem catalogue ready", zap.Bool("seeded", seeded))
	graderService := service.NewGraderService(repository.NewSubmissionRepository(redisCache), problemRepo, service.Config{
		StartDelay:       cfg.Delays.Start,
		GradeDelay:       cfg.Delays.Grade,
		MaxSolutionBytes: cfg.MaxSolutionBytes,
		MaxImageBytes:    cfg.MaxImageBytes,
	})
	defer graderService.Close()

	router := controller.NewRouter(graderService, controller.RouterOptions{
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateLimiter:  commonmw.NewRateLimiter(cfg.RateLimit),
		HealthCheck:  redisCache.Ping,
	})
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "mock grader started",
			zap.String("addr", cfg.Addr),
			zap.Duration("start_delay", cfg.Delays.Start),
			zap.Duration("grade_delay", cfg.Delays.Grade),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}
