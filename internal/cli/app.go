package cli

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"timebank/internal/config"
	"timebank/internal/infrastructure/cache"
	"timebank/internal/infrastructure/database"
	"timebank/internal/infrastructure/lock"
	"timebank/internal/infrastructure/mq"
	"timebank/internal/service"
	"timebank/pkg/idgen"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	redis    *redis.Client
	engine   *service.LedgerEngine
	sessions *service.SessionService
	ratings  *service.RatingService
	accounts *service.AccountService
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	idgen.Init(cfg.Server.WorkerID)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{cfg: cfg, db: db}

	var locker lock.Locker
	if cfg.Redis.Enabled() {
		a.redis, err = cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			a.close()
			return nil, err
		}
		locker = lock.NewRedisLocker(a.redis, cfg.Business.LockTTL, cfg.Business.LockRetryInterval, cfg.Business.LockMaxRetries)
	} else {
		log.Warn().Msg("redis not configured, account locks are local to this process")
		locker = lock.NewLocalLocker()
	}

	a.engine = service.NewLedgerEngine(db, locker, cfg)
	a.sessions = service.NewSessionService(db, a.engine)
	a.ratings = service.NewRatingService(db)
	a.accounts = service.NewAccountService(db, a.engine)
	return a, nil
}

// publisher dials Kafka, or returns nil when no brokers are configured.
func (a *app) publisher() (mq.Publisher, error) {
	if !a.cfg.Kafka.Enabled() {
		return nil, nil
	}
	return mq.NewKafkaPublisher(&a.cfg.Kafka)
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}
}
