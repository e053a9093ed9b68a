package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"trading-analyzer/config"
	"trading-analyzer/internal/analyzer"
	"trading-analyzer/internal/kafka"
	"trading-analyzer/internal/logger"
	"trading-analyzer/internal/metrics"
	"trading-analyzer/internal/model"
	"trading-analyzer/internal/notification"
	"trading-analyzer/internal/store/postgres"
	redisstore "trading-analyzer/internal/store/redis"
	"trading-analyzer/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.Service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewMetrics(nil)

	// ---- Redis (candle source and/or point publication) ----
	rdb, err := redisstore.NewClient(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		if cfg.Source == config.SourceRedis {
			log.Fatal().Err(err).Msg("redis")
		}
		log.Warn().Err(err).Msg("redis unavailable, point publication disabled")
		rdb = nil
	}

	// ---- Candle source ----
	var source model.CandleSource
	switch cfg.Source {
	case config.SourceKafka:
		consumer, err := kafka.NewCandleConsumer(kafkaConfig(cfg))
		if err != nil {
			log.Fatal().Err(err).Msg("kafka consumer")
		}
		consumer.OnError = func(error) { prom.ConsumeErrors.Inc() }
		source = consumer
	default:
		stream := redisstore.NewCandleStream(rdb, redisstore.StreamConfig{
			Group:       cfg.Redis.Group,
			Consumer:    cfg.Redis.Consumer,
			Prefix:      cfg.Redis.CandlePrefix,
			Block:       cfg.Redis.Block,
			Instruments: cfg.Instruments,
			Timeframes:  cfg.Timeframes(),
		})
		stream.OnError = func(error) { prom.ConsumeErrors.Inc() }
		source = stream
	}

	// ---- Store ----
	repo, db := openStore(ctx, cfg)

	// ---- Sinks ----
	var (
		points model.PointPublisher
		sinks  []analyzer.NamedSink
	)
	if rdb != nil {
		cb := redisstore.NewCircuitBreaker("redis-writer", 5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		bw := redisstore.NewBufferedWriter(ctx, redisstore.NewWriter(rdb), cb, 10000)
		points = bw
		sinks = append(sinks, analyzer.NamedSink{Name: "redis", Sink: bw})
	}
	if audit, ok := repo.(model.SignalSink); ok {
		sinks = append(sinks, analyzer.NamedSink{Name: "store", Sink: audit})
	}
	sinks = append(sinks, analyzer.NamedSink{Name: "log", Sink: notification.NewSink(notification.NewLogNotifier())})
	if cfg.Telegram.Token != "" {
		sinks = append(sinks, analyzer.NamedSink{
			Name: "telegram",
			Sink: notification.NewSink(notification.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)),
		})
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, analyzer.NamedSink{
			Name: "webhook",
			Sink: notification.NewSink(notification.NewWebhookNotifier(cfg.WebhookURL)),
		})
	}
	if cfg.Source == config.SourceKafka || cfg.PublishSignalsKafka {
		producer, err := kafka.NewSignalProducer(kafkaConfig(cfg))
		if err != nil {
			log.Fatal().Err(err).Msg("kafka producer")
		}
		defer producer.Close()
		sinks = append(sinks, analyzer.NamedSink{Name: "kafka", Sink: producer})
	}

	// ---- Health + metrics ----
	health := metrics.NewHealthStatus(cfg.Source == config.SourceRedis, repo != nil)
	health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
	server := metrics.NewServer(cfg.MetricsAddr, health)

	svc, err := analyzer.New(analyzer.OptionsFromConfig(cfg), analyzer.Deps{
		Source:  source,
		Repo:    repo,
		Points:  points,
		Sinks:   sinks,
		Metrics: prom,
		Health:  health,
		Server:  server,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("analyzer init")
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("analyzer")
	}
	// the redis candle stream closes the shared client itself
	if rdb != nil && cfg.Source != config.SourceRedis {
		closeRedis(rdb)
	}
}

func kafkaConfig(cfg *config.Config) kafka.Config {
	return kafka.Config{
		Brokers:     cfg.Kafka.BrokerList(),
		GroupID:     cfg.Kafka.GroupID,
		CandleTopic: cfg.Kafka.CandleTopic,
		SignalTopic: cfg.Kafka.SignalTopic,
	}
}

type storeWithDB interface {
	model.Repository
	DB() *sql.DB
}

// openStore returns the configured repository, or nil for STORE=none.
func openStore(ctx context.Context, cfg *config.Config) (model.Repository, *sql.DB) {
	var (
		s   storeWithDB
		err error
	)
	switch cfg.Store {
	case config.StoreNone:
		log.Warn().Msg("persistence disabled, state will not survive a restart")
		return nil, nil
	case config.StorePostgres:
		s, err = postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN, PoolMax: cfg.Postgres.PoolMax})
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite dir")
		}
		s, err = sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	}
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("store")
	}
	return s, s.DB()
}

func closeRedis(rdb *goredis.Client) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
}
