package svc

import (
	"context"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	appcache "arena-api/internal/cache"
	"arena-api/internal/config"
	"arena-api/internal/repo"
	brokerpkg "arena-api/pkg/broker"
	_ "arena-api/pkg/broker/hyperliquid"
	_ "arena-api/pkg/broker/sim"
	"arena-api/pkg/engine"
	"arena-api/pkg/journal"
	llmpkg "arena-api/pkg/llm"
	marketpkg "arena-api/pkg/market"
	_ "arena-api/pkg/market/hyperliquid"
	"arena-api/pkg/risk"
)

type ServiceContext struct {
	Config config.Config

	DBConn sqlx.SqlConn
	Redis  *redis.Redis
	TTL    appcache.TTLSet
	Repos  *repo.Set

	LLMClient      llmpkg.LLMClient
	MarketProvider marketpkg.Provider
	BrokerConfig   *brokerpkg.Config
	Executors      map[string]brokerpkg.Executor
	Router         *brokerpkg.Router
	Locker         *appcache.TickLocker
	Journal        *journal.Writer

	Engine *engine.Engine
}

func NewServiceContext(c config.Config) *ServiceContext {
	sc := &ServiceContext{
		Config: c,
		TTL:    appcache.NewTTLSet(c.TTL.Short, c.TTL.Medium, c.TTL.Long),
	}

	if c.LLM.Value == nil {
		log.Fatalf("config: llm section is required")
	}
	llmClient, err := llmpkg.NewClient(c.LLM.Value)
	if err != nil {
		log.Fatalf("failed to build llm client: %v", err)
	}
	sc.LLMClient = llmClient

	if c.Market.Value == nil {
		log.Fatalf("config: market section is required")
	}
	provider, err := c.Market.Value.DefaultProvider()
	if err != nil {
		log.Fatalf("failed to build market provider: %v", err)
	}
	sc.MarketProvider = provider

	if c.Broker.Value == nil {
		log.Fatalf("config: broker section is required")
	}
	brokerCfg := c.Broker.Value
	applyTestnetDefaults(c.Env, brokerCfg)
	executors, err := brokerCfg.BuildExecutors()
	if err != nil {
		log.Fatalf("failed to build venue executors: %v", err)
	}
	sc.BrokerConfig = brokerCfg
	sc.Executors = executors

	if c.Postgres.DSN == "" {
		log.Fatalf("config: postgres.dsn is required")
	}
	sc.DBConn = sqlx.NewSqlConn("pgx", c.Postgres.DSN)
	repos, err := repo.New(repo.Dependencies{DBConn: sc.DBConn})
	if err != nil {
		log.Fatalf("failed to build repositories: %v", err)
	}
	sc.Repos = repos

	router, err := brokerpkg.NewRouter(repos.Broker())
	if err != nil {
		log.Fatalf("failed to build order router: %v", err)
	}
	sc.Router = router

	if len(c.Redis.Host) == 0 {
		log.Fatalf("config: redis host is required")
	}
	redisClient := redis.MustNewRedis(c.Redis)
	sc.Redis = redisClient
	sc.Locker = appcache.NewTickLocker(redisClient)
	sc.MarketProvider = appcache.NewCachedProvider(sc.MarketProvider, redisClient, sc.TTL)

	journalWriter, err := journal.NewWriter(c.JournalDir)
	if err != nil {
		log.Fatalf("failed to init tick journal: %v", err)
	}
	sc.Journal = journalWriter

	eng, err := engine.New(engine.Config{
		Stores: engine.Stores{
			Sessions:  repos.Sessions,
			Decisions: repos.Decisions,
			Equity:    repos.Equity,
			Broker:    repos.Broker(),
		},
		Locker:   sc.Locker,
		Provider: sc.MarketProvider,
		Router:   sc.Router,
		Executor: sc.ResolveExecutor,
		LLM:      sc.LLMClient,
		Journal:  sc.Journal,
	})
	if err != nil {
		log.Fatalf("failed to build tick engine: %v", err)
	}
	sc.Engine = eng

	return sc
}

// ResolveExecutor picks the venue executor for a session. Simulated modes
// always get the sim fill engine. Live sessions use the venue's configured
// executor, unless the session names a credential source, in which case a
// per-session signer is built from that environment variable.
func (sc *ServiceContext) ResolveExecutor(_ context.Context, s *engine.Session, _ *risk.Strategy) (brokerpkg.Executor, error) {
	if s.Mode != brokerpkg.ModeLive {
		if exec, ok := sc.Executors["sim"]; ok {
			return exec, nil
		}
		return nil, fmt.Errorf("svc: no sim executor configured")
	}

	if s.CredentialSource != "" {
		key := os.Getenv(s.CredentialSource)
		if key == "" {
			return nil, fmt.Errorf("svc: credential source %s is not set", s.CredentialSource)
		}
		return brokerpkg.NewExecutor(string(s.Venue), &brokerpkg.ExecutorConfig{
			PrivateKey: key,
			Testnet:    sc.Config.IsTestEnv(),
		})
	}

	if exec, ok := sc.Executors[string(s.Venue)]; ok {
		return exec, nil
	}
	if sc.BrokerConfig.Default != "" {
		if exec, ok := sc.Executors[sc.BrokerConfig.Default]; ok {
			return exec, nil
		}
	}
	return nil, fmt.Errorf("svc: no executor configured for venue %s", s.Venue)
}

// applyTestnetDefaults forces testnet endpoints for every live venue when
// running in the test environment, regardless of what the config says.
func applyTestnetDefaults(env string, cfg *brokerpkg.Config) {
	if env != "" && env != "test" {
		return
	}
	for _, executor := range cfg.Executors {
		executor.Testnet = true
	}
}
