package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"taskchat/internal/calls"
	"taskchat/internal/config"
	"taskchat/internal/notify"
	"taskchat/internal/presence"
	"taskchat/internal/registry"
	"taskchat/internal/repository"
	"taskchat/internal/router"
	"taskchat/internal/server"
	"taskchat/internal/services"
	"taskchat/internal/storage"
	"taskchat/pkg/database"
	"taskchat/pkg/logger"
)

const accessTokenTTL = 24 * time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	l := logger.New(cfg.Server.Environment)
	defer l.Sync()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		l.Errorf("database connect failed: %s", err)
		return
	}
	if err := database.Migrate(db); err != nil {
		l.Errorf("migrate failed: %s", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var mirror *presence.Mirror
	if err := redisClient.Ping(ctx).Err(); err != nil {
		l.Warnf("redis unreachable, presence mirror disabled: %s", err)
	} else {
		mirror = presence.NewMirror(redisClient)
	}

	users := repository.NewUserRepository(db)
	groups := repository.NewGroupRepository(db)
	messages := repository.NewMessageRepository(db)
	callRepo := repository.NewCallRepository(db)
	notifRepo := repository.NewNotificationRepository(db)

	reg := registry.New(l.Logger)
	rt := router.New(reg, groups, l.Logger)
	rt.EchoReceipts = cfg.Delivery.EchoReceipts

	tracker := presence.NewTracker(reg, rt, users, users, mirror, l.Logger)
	go tracker.Run(ctx)

	push := notify.NewWebPushSender(users, cfg.Push.Subscriber, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, l.Logger)
	dispatcher := notify.NewDispatcher(reg, users, notifRepo, push, l.Logger)

	machine := calls.NewMachine(reg, rt, callRepo, groups, dispatcher, cfg.Call.RingTimeout, l.Logger)
	go machine.Run(ctx)

	authService := services.NewAuthService(users, cfg.Auth.JWTSecret, accessTokenTTL)
	messageService := services.NewMessageService(messages, groups, rt, reg, dispatcher, l.Logger)
	groupService := services.NewGroupService(groups, dispatcher)

	var s3 *storage.Client
	if !cfg.Storage.DisableS3 && cfg.Storage.S3Bucket != "" {
		s3, err = storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.Storage.S3Region,
			Bucket:     cfg.Storage.S3Bucket,
			PresignTTL: cfg.Storage.PresignTTL,
		})
		if err != nil {
			l.Warnf("s3 unavailable, attachments disabled: %s", err)
		}
	}

	srv := server.New(&server.Deps{
		Config:     cfg,
		DB:         db,
		Registry:   reg,
		Router:     rt,
		Tracker:    tracker,
		Mirror:     mirror,
		Messages:   messageService,
		Groups:     groupService,
		Calls:      machine,
		Dispatcher: dispatcher,
		Auth:       authService,
		Users:      users,
		CallRepo:   callRepo,
		Storage:    s3,
		Events:     server.NewServerEvents(rt, dispatcher, authService),
		Log:        l,
	})

	if err := srv.Start(); err != nil {
		l.Errorf("server shutdown error: %s", err)
	}
}
