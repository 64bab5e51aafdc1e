// Package app は設定から依存関係を組み立てます
// HTTPサーバーとバッチの両方から使います
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/uma-arai/sbcntr-booking/internal/common/clock"
	"github.com/uma-arai/sbcntr-booking/internal/common/config"
	"github.com/uma-arai/sbcntr-booking/internal/common/database"
	"github.com/uma-arai/sbcntr-booking/internal/eventbus"
	"github.com/uma-arai/sbcntr-booking/internal/repository"
	"github.com/uma-arai/sbcntr-booking/internal/service/availability"
	"github.com/uma-arai/sbcntr-booking/internal/service/batch"
	"github.com/uma-arai/sbcntr-booking/internal/service/booking"
	"github.com/uma-arai/sbcntr-booking/internal/service/notify"
)

type App struct {
	DB       *database.DB
	Bus      *eventbus.Bus
	Resolver *availability.Resolver
	Notifier *notify.Notifier
	Inbox    *notify.Inbox
	Bookings *booking.Service
	Jobs     *batch.Jobs

	redis *redis.Client
	relay *eventbus.RedisRelay
}

// New はデータベースに接続し、サービスを組み立てます
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	repoDB := &repository.DB{DB: db.DB}
	bookings := repository.NewBookingRepository(repoDB)
	items := repository.NewItemRepository(repoDB)
	users := repository.NewUserRepository(repoDB)
	audit := repository.NewAuditRepository(repoDB)
	notifications := repository.NewNotificationRepository(repoDB)

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.Mail.RabbitMQURL != "" {
		mailer = notify.NewAMQPMailer(cfg.Mail.RabbitMQURL, cfg.Mail.Queue)
	} else {
		log.Printf("RABBITMQ_URL is not set, emails will only be logged")
	}

	clk := clock.Real()
	bus := eventbus.New()
	resolver := availability.NewResolver(bookings, cfg.Booking.BlockOnPending)
	notifier := notify.NewNotifier(notifications, bus, mailer, clk, cfg.Mail.From)

	a := &App{
		DB:       db,
		Bus:      bus,
		Resolver: resolver,
		Notifier: notifier,
		Inbox:    notify.NewInbox(notifications),
		Bookings: booking.NewService(booking.Dependencies{
			Tx:       repoDB,
			Bookings: bookings,
			Items:    items,
			Users:    users,
			Audit:    audit,
			Resolver: resolver,
			Notifier: notifier,
			Clock:    clk,
		}),
		Jobs: batch.NewJobs(batch.JobDependencies{
			Tx:       repoDB,
			Bookings: bookings,
			Users:    users,
			Audit:    audit,
			Notifier: notifier,
			Clock:    clk,
		}),
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Printf("Failed to connect to redis at %s, realtime relay disabled: %v", cfg.Redis.Addr, err)
			_ = a.redis.Close()
			a.redis = nil
		} else {
			a.relay = eventbus.NewRedisRelay(bus, a.redis, cfg.Redis.ChannelPrefix)
		}
	}

	return a, nil
}

// StartRelay はRedisが設定されていれば通知の転送を開始します
func (a *App) StartRelay(ctx context.Context) {
	if a.relay == nil {
		return
	}
	go a.relay.Run(ctx)
}

// Close は送信中のメールを待ってから接続を閉じます
func (a *App) Close() error {
	a.Notifier.Wait()
	a.Bus.Close()

	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}
