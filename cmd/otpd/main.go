// Command otpd serves the OTP issue/verify API over HTTP, backed by Redis,
// with SMTP code delivery and structured audit logging.
//
// Configuration comes from a YAML file (default config/otpd.yaml, override
// with -config) plus environment variables for secrets; a .env file is
// loaded when present.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/otpkit/otpkit"
	"github.com/otpkit/otpkit/delivery"
	"github.com/otpkit/otpkit/httpapi"
)

func main() {
	configPath := flag.String("config", "config/otpd.yaml", "path to YAML configuration")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	engineCfg := otpkit.DefaultConfig()
	if cfg.OTP.Digits > 0 {
		engineCfg.Code.Digits = cfg.OTP.Digits
	}
	if cfg.OTP.TTL > 0 {
		engineCfg.Code.TTL = time.Duration(cfg.OTP.TTL)
	}
	if cfg.OTP.MaxAttempts > 0 {
		engineCfg.Code.MaxAttempts = cfg.OTP.MaxAttempts
	}
	if cfg.OTP.RateWindow > 0 {
		engineCfg.RateLimit.Window = time.Duration(cfg.OTP.RateWindow)
	}
	if cfg.OTP.RateMaxIssued > 0 {
		engineCfg.RateLimit.MaxIssued = cfg.OTP.RateMaxIssued
	}

	engine, err := otpkit.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAuditSink(otpkit.NewLoggerSink(logger.Named("audit"))).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Fatal("engine build failed", zap.Error(err))
	}
	defer engine.Close()

	var sender otpkit.Sender
	if cfg.SMTP.Host != "" {
		sender = delivery.NewSMTP(
			cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password,
			cfg.SMTP.From, cfg.SMTP.Subject,
		)
	} else {
		logger.Warn("no SMTP host configured, using development log sender")
		sender = delivery.NewLog(logger.Named("delivery"))
	}

	api := httpapi.New(engine, sender, httpapi.Config{
		DefaultPurpose: cfg.OTP.DefaultPurpose,
		ExposeCode:     cfg.OTP.ExposeCode,
	}, logger)

	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.Register(router)

	logger.Info("otpd listening", zap.String("addr", cfg.Server.Addr))
	if err := router.Run(cfg.Server.Addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
