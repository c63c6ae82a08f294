package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/audiohub/config"
	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/routes"
	"github.com/cppla/audiohub/services"
	"github.com/cppla/audiohub/storage"
	"github.com/cppla/audiohub/utils"
)

// orphanGrace keeps the sweeper away from uploads whose row is still being inserted.
const orphanGrace = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger early
	logger, err := utils.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) error {
	db, err := config.InitDatabase(cfg, &models.UserProfile{}, &models.AudioFile{})
	if err != nil {
		return err
	}

	rc, err := utils.NewRedis(ctx, cfg)
	if err != nil {
		// revocation and oauth state still work per process without Redis
		logger.Warn("redis unavailable, using in-memory stores", zap.Error(err))
	}
	if rc != nil {
		defer rc.Close()
	}

	store, localRoot, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	codec, err := utils.NewTokenCodec(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.TokenTTL())
	if err != nil {
		return err
	}

	var provider services.OAuthProvider
	if cfg.YandexConfigured() {
		provider = services.NewYandexClient(services.YandexConfig{
			ClientID:     cfg.YandexClientID,
			ClientSecret: cfg.YandexClientSecret,
			RedirectURL:  cfg.YandexRedirectURI,
			AuthURL:      cfg.YandexAuthURL,
			TokenURL:     cfg.YandexTokenURL,
			UserInfoURL:  cfg.YandexUserInfoURL,
			Timeout:      cfg.OAuthHTTPTimeout,
		})
	} else {
		logger.Info("yandex oauth disabled, client credentials not configured")
	}

	users := services.NewUserService(db, store, logger)
	audio := services.NewAudioService(db, users, store, logger)
	auth := services.NewAuthService(users, codec, utils.NewTokenBlacklist(rc), utils.NewStateStore(rc), provider, logger)

	created, err := users.EnsureSuperuser(ctx, cfg.SuperuserEmail, cfg.SuperuserUsername, cfg.SuperuserPassword)
	if err != nil {
		return err
	}
	if created {
		logger.Info("superuser provisioned", zap.String("email", cfg.SuperuserEmail))
	}

	if localRoot != "" {
		utils.StartPeriodic(ctx, "orphan-sweep", cfg.OrphanSweepInterval, logger, func(ctx context.Context) error {
			_, err := audio.SweepOrphans(ctx, localRoot, orphanGrace)
			return err
		})
	}

	r := routes.SetupRouter(cfg, routes.Services{Auth: auth, Users: users, Audio: audio}, logger)

	logger.Info("starting server", zap.String("port", cfg.AppPort))
	return utils.NewGraceServer(":"+cfg.AppPort, r, logger).Run(ctx)
}

// openStorage returns the configured backend and, for local storage, its root directory.
func openStorage(ctx context.Context, cfg config.AppConfig) (storage.Storage, string, error) {
	if strings.EqualFold(cfg.StorageDriver, "s3") {
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			AccessKeyID:    cfg.S3AccessKeyID,
			SecretKey:      cfg.S3SecretKey,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3ForcePathStyle,
			Prefix:         cfg.S3Prefix,
			MaxSize:        cfg.MaxUploadBytes(),
		})
		return s3, "", err
	}
	local, err := storage.NewLocalStorage(cfg.UploadDir, cfg.MaxUploadBytes())
	if err != nil {
		return nil, "", err
	}
	return local, local.BaseDir(), nil
}
