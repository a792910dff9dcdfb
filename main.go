package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/analyzer"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/gate"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/history"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/llm"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/oracle"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/prompt"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/scope"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/slot"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/transport"
	configx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/config"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
	_ "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/qstash"
	redisx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/redis"
)

type AppConfig struct {
	Addr           string        `envconfig:"ADDR" default:":8080"`
	StateBackend   string        `envconfig:"STATE_BACKEND" default:"memory"`
	StateTTL       time.Duration `envconfig:"STATE_TTL" default:"168h"`
	StateCacheSize int           `envconfig:"STATE_CACHE_SIZE" default:"0"`
	LockTTL        time.Duration `envconfig:"LOCK_TTL" default:"2m"`
	HistoryMaxLen  int           `envconfig:"HISTORY_MAX_LEN" default:"50"`
	MaxAsks        int           `envconfig:"MAX_ASKS" default:"2"`

	TicketDestination string `envconfig:"TICKET_DESTINATION"`
	AgentDestination  string `envconfig:"AGENT_DESTINATION"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("APP")

	llmCfg := configx.MustNew[llm.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		logx.Fatal().Err(err).Msg("invalid llm config")
	}
	analysisModel, err := llmCfg.ChatModelFor(ctx, llm.RoleAnalysis)
	if err != nil {
		logx.Fatal().Err(err).Msg("init analysis model")
	}
	responseModel, err := llmCfg.ChatModelFor(ctx, llm.RoleResponse)
	if err != nil {
		logx.Fatal().Err(err).Msg("init response model")
	}
	prompts := prompt.LoadPromptSet()
	oracleCfg := configx.MustNew[oracle.Config]("ORACLE")
	orc, err := oracle.New(ctx, analysisModel, responseModel, prompts, *oracleCfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("init oracle")
	}

	var rdb *goredis.Client
	if needsRedis(appCfg.StateBackend) {
		redisCfg := configx.MustNew[redisx.Config]("REDIS")
		rdb = redisCfg.MustNew(ctx)
		defer rdb.Close()
	}

	var locker statex.Locker = statex.NewLocalLocker()
	var transcript contractx.TranscriptStore = history.NewMemoryRepository(appCfg.HistoryMaxLen)
	if rdb != nil {
		locker = statex.NewRedisLocker(rdb, appCfg.LockTTL)
		transcript = history.NewRedisRepository(rdb, appCfg.StateTTL, appCfg.HistoryMaxLen)
	}

	store, err := newStateStore(ctx, *appCfg, rdb, locker)
	if err != nil {
		logx.Fatal().Err(err).Msg("init state store")
	}

	catalog := tool.DefaultCatalog()
	gateway := newGateway(*appCfg, *llmCfg)
	execCfg := configx.MustNew[tool.ExecutorConfig]("TOOL")
	gateCfg := configx.MustNew[gate.Config]("GATE")
	orchCfg := configx.MustNew[orchestrator.Config]("ORCHESTRATOR")

	an := analyzer.New(scope.New(orc), slot.New(orc, catalog, appCfg.MaxAsks), orc, catalog)
	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      store,
		Locker:     locker,
		Transcript: transcript,
		Analyzer:   an,
		Gate:       gate.New(catalog, *gateCfg),
		Executor:   tool.NewExecutor(catalog, gateway, *execCfg),
		Responder:  orc,
		Catalog:    catalog,
	}, *orchCfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("init orchestrator")
	}

	srv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           transport.NewRouter(orch),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logx.Info().Str("addr", appCfg.Addr).Str("state_backend", appCfg.StateBackend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("http shutdown")
	}
}

func needsRedis(backend string) bool {
	return strings.EqualFold(strings.TrimSpace(backend), "redis")
}

func newStateStore(ctx context.Context, cfg AppConfig, rdb *goredis.Client, locker statex.Locker) (statex.Store, error) {
	var store statex.Store
	switch strings.ToLower(strings.TrimSpace(cfg.StateBackend)) {
	case "", "memory":
		store = statex.NewMemoryStore()
	case "redis":
		store = statex.NewRedisStore(rdb, cfg.StateTTL)
	case "upstash":
		upstashCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		s, err := statex.NewUpstashRedisStore(*upstashCfg, statex.WithTTL(cfg.StateTTL))
		if err != nil {
			return nil, err
		}
		store = s
	case "postgres":
		pgCfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		db, err := statex.OpenPostgres(*pgCfg)
		if err != nil {
			return nil, err
		}
		pg := statex.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		store = pg
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}

	return statex.WithCache(store, cfg.StateCacheSize, locker)
}

// newGateway binds every catalog tool to a backend. Tools without one stay
// unregistered and report unavailable.
func newGateway(appCfg AppConfig, llmCfg llm.Config) *tool.Gateway {
	gateway := tool.NewGateway()

	httpCfg := configx.MustNew[tool.HTTPConfig]("TOOL_HTTP")
	client := &http.Client{Timeout: httpCfg.Timeout}
	for name, endpoint := range httpCfg.Endpoints {
		h, err := tool.NewHTTPHandler(endpoint, httpCfg.Token, client)
		if err != nil {
			logx.Warn().Err(err).Str("tool", name).Msg("skip http tool")
			continue
		}
		gateway.Register(name, h)
	}

	if appCfg.TicketDestination != "" || appCfg.AgentDestination != "" {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		publisher := qstashx.MustNew(*qstashCfg)
		for name, dest := range map[string]string{
			tool.ToolRaiseTicket: appCfg.TicketDestination,
			tool.ToolAssignAgent: appCfg.AgentDestination,
		} {
			if dest == "" {
				continue
			}
			h, err := tool.NewQStashHandler(publisher, dest)
			if err != nil {
				logx.Warn().Err(err).Str("tool", name).Msg("skip qstash tool")
				continue
			}
			gateway.Register(name, h)
		}
	}

	if !gateway.Registered(tool.ToolImageAnalysis) && strings.TrimSpace(llmCfg.APIKey) != "" {
		visionCfg := llmCfg.OpenRouterFor(llm.RoleVision)
		h, err := tool.NewVisionHandler(openrouterx.NewClient(visionCfg), visionCfg.Model)
		if err != nil {
			logx.Warn().Err(err).Msg("skip vision tool")
		} else {
			gateway.Register(tool.ToolImageAnalysis, h)
		}
	}

	return gateway
}
