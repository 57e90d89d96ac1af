package appcontext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/config"
	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/backend"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/producer"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/storage"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/ratelimit"
	"github.com/RoyceAzure/lab/cartsync/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const producerCloseWait = 15 * time.Second

type ApplicationContext struct {
	Cf            *config.Config
	Logger        *zerolog.Logger
	RedisClient   *redis.Client
	Storage       storage.Storage
	Bus           *event.Bus
	BackendClient backend.IClient
	RemoteService service.IRemoteCartService
	SourceFactory service.ICartSourceFactory
	// Migrator CART_MIGRATE_ON_LOGIN 關閉時為 nil
	Migrator      service.ICartMigrator
	Producer      *producer.BatchProducer
	EventProducer producer.ICartEventProducer
	Limiter       ratelimit.Limiter

	detachProducer func()
}

func NewApplicationContext(cf *config.Config) (*ApplicationContext, error) {
	if cf == nil {
		return nil, errors.New("config cannot be nil")
	}
	app := ApplicationContext{
		Cf: cf,
	}
	err := app.Init()
	if err != nil {
		return nil, err
	}

	return &app, nil
}

func (app *ApplicationContext) Init() error {
	steps := []func() error{
		app.setUpLogger,
		app.setUpRedisClient,
		app.setUpStorage,
		app.setUpEventBus,
		app.setUpBackendClient,
		app.setUpRemoteService,
		app.setUpSourceFactory,
		app.setUpMigrator,
		app.setUpProducer,
		app.setUpLimiter,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (app *ApplicationContext) setUpLogger() error {
	level, err := zerolog.ParseLevel(app.Cf.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if app.Cf.Env == string(constants.Debug) || app.Cf.Env == string(constants.Dev) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	logger = logger.Level(level).With().Timestamp().Str("service", "cartsync").Logger()
	app.Logger = &logger

	app.Logger.Info().
		Str("env", app.Cf.Env).
		Str("storage", app.Cf.StorageDriver).
		Str("backend", app.Cf.BackendBaseURL).
		Dur("debounce_delay", app.Cf.DebounceDelay).
		Bool("migrate_on_login", app.Cf.CartMigrateOnLogin).
		Strs("kafka_brokers", app.Cf.Brokers()).
		Str("rate_limit", app.Cf.RateLimitDriver).
		Msg("Finish setup logger")
	return nil
}

// redis 只在 storage 或 rate limit 使用 redis 時建立
func (app *ApplicationContext) setUpRedisClient() error {
	if app.Cf.StorageDriver != string(constants.StorageRedis) && app.Cf.RateLimitDriver != "redis" {
		return nil
	}
	app.Logger.Info().Msg("Start setup redis client")
	client := redis.NewClient(&redis.Options{
		Addr:     app.Cf.RedisAddr,
		Password: app.Cf.RedisPassword,
		DB:       app.Cf.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	app.RedisClient = client
	app.Logger.Info().Msg("Finish setup redis client")
	return nil
}

func (app *ApplicationContext) setUpStorage() error {
	app.Logger.Info().Str("driver", app.Cf.StorageDriver).Msg("Start setup storage")
	switch constants.StorageDriver(app.Cf.StorageDriver) {
	case constants.StorageRedis:
		app.Storage = storage.NewRedisStorage(app.RedisClient, app.Cf.RedisPrefix, storage.WithTTL(app.Cf.GuestCartTTL))
	case constants.StoragePostgres:
		db, err := storage.GetDbConn(app.Cf.DbName, app.Cf.DbHost, app.Cf.DbPort, app.Cf.DbUser, app.Cf.DbPas)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		st, err := storage.NewGormStorage(db)
		if err != nil {
			return err
		}
		app.Storage = st
	default:
		app.Storage = storage.NewMemoryStorage()
	}
	app.Logger.Info().Msg("Finish setup storage")
	return nil
}

func (app *ApplicationContext) setUpEventBus() error {
	app.Bus = event.NewBus(event.WithBusLogger(app.Logger))
	return nil
}

func (app *ApplicationContext) setUpBackendClient() error {
	app.Logger.Info().Str("base_url", app.Cf.BackendBaseURL).Msg("Start setup backend client")
	routes, err := backend.LoadRoutes(app.Cf.BackendRoutesFile)
	if err != nil {
		return err
	}
	app.BackendClient = backend.NewClient(app.Cf.BackendBaseURL,
		backend.WithTimeout(app.Cf.BackendTimeout),
		backend.WithRoutes(routes),
		backend.WithLogger(app.Logger),
	)
	app.Logger.Info().Msg("Finish setup backend client")
	return nil
}

func (app *ApplicationContext) setUpRemoteService() error {
	app.RemoteService = service.NewRemoteCartService(app.BackendClient, app.Bus,
		service.WithDebounceDelay(app.Cf.DebounceDelay),
		service.WithRemoteLogger(app.Logger),
	)
	return nil
}

func (app *ApplicationContext) setUpSourceFactory() error {
	app.SourceFactory = service.NewCartSourceFactory(app.Storage, app.Bus, app.RemoteService, app.Logger)
	return nil
}

func (app *ApplicationContext) setUpMigrator() error {
	if !app.Cf.CartMigrateOnLogin {
		return nil
	}
	app.Migrator = service.NewCartMigrator(app.RemoteService, app.Logger,
		service.WithRetryBackoff(app.Cf.CartMigrateBackoff),
	)
	return nil
}

// kafka 為選用，KAFKA_BROKERS 未設定時購物車事件只在程序內傳遞
func (app *ApplicationContext) setUpProducer() error {
	brokers := app.Cf.Brokers()
	if len(brokers) == 0 {
		app.Logger.Info().Msg("kafka brokers not set, cart events stay in process")
		return nil
	}
	app.Logger.Info().Strs("brokers", brokers).Msg("Start setup cart event producer")

	cfg := producer.DefaultConfig()
	cfg.Brokers = brokers
	cfg.Topic = app.Cf.KafkaCartTopic
	cfg.Partitions = app.Cf.KafkaPartitions

	logger := app.Logger
	p, err := producer.NewBatchProducer(producer.NewKafkaWriter(cfg), cfg,
		producer.WithLogger(logger),
		producer.WithFailedHandler(func(e producer.ProducerError) {
			logger.Error().Err(e.Err).Str("key", string(e.Message.Key)).Msg("cart event dropped")
		}),
		producer.WithSuccessHandler(func(msg kafka.Message) {
			logger.Debug().Str("key", string(msg.Key)).Msg("cart event delivered")
		}),
	)
	if err != nil {
		return err
	}
	p.Start()
	app.Producer = p

	eventProducer := producer.NewCartEventProducer(p, app.Logger)
	app.detachProducer = eventProducer.Attach(app.Bus)
	app.EventProducer = eventProducer
	app.Logger.Info().Msg("Finish setup cart event producer")
	return nil
}

func (app *ApplicationContext) setUpLimiter() error {
	cfg := ratelimit.GetDefaultLimiterConfig()
	if app.Cf.RateLimitCapacity > 0 {
		cfg.Capacity = app.Cf.RateLimitCapacity
	}
	if app.Cf.RateLimitRate > 0 {
		cfg.Rate = app.Cf.RateLimitRate
	}
	if app.Cf.RateLimitRefill > 0 {
		cfg.RefillRate = app.Cf.RateLimitRefill
	}

	if app.Cf.RateLimitDriver == "redis" {
		app.Limiter = ratelimit.NewRedisTokenBucket(app.RedisClient, &cfg, app.Cf.RedisPrefix, app.Logger)
	} else {
		app.Limiter = ratelimit.NewKeyedLimiter(&cfg)
	}
	app.Logger.Info().Int("capacity", cfg.Capacity).Float64("rate", cfg.Rate).Msg("Finish setup rate limiter")
	return nil
}

/*
Shutdown 順序:
  - 送出所有等待中的數量變更
  - 停止轉送事件並等 producer 送完
  - 關閉 limiter、storage、redis
*/
func (app *ApplicationContext) Shutdown(ctx context.Context) error {
	app.Logger.Info().Msg("Start application shutdown")

	done := make(chan error, 1)
	go func() {
		var errs []error

		if app.RemoteService != nil {
			app.Logger.Info().Msg("Flushing pending quantity updates...")
			if err := app.RemoteService.Close(ctx); err != nil {
				//有錯誤不結束流程
				app.Logger.Error().Err(err).Msg("flush pending updates failed")
				errs = append(errs, err)
			}
		}

		if app.detachProducer != nil {
			app.detachProducer()
		}
		if app.Producer != nil {
			app.Logger.Info().Msg("Closing cart event producer...")
			if err := app.Producer.Close(producerCloseWait); err != nil {
				app.Logger.Error().Err(err).Msg("producer shutdown error")
				errs = append(errs, err)
			}
		}

		if app.Limiter != nil {
			app.Limiter.Stop()
		}

		if app.Storage != nil {
			app.Logger.Info().Msg("Closing storage...")
			if err := app.Storage.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		// storage 可能已關閉同一個 client
		if app.RedisClient != nil {
			if err := app.RedisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				errs = append(errs, err)
			}
		}

		app.Logger.Info().Msg("Application shutdown complete")
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %v", ctx.Err())
	}
}
