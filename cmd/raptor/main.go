package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"raptor/internal/audit"
	"raptor/internal/blockchain"
	"raptor/internal/config"
	"raptor/internal/health"
	"raptor/internal/ingest"
	"raptor/internal/notify"
	"raptor/internal/oracle"
	"raptor/internal/router"
	"raptor/internal/store"
	"raptor/internal/trading"
	"raptor/internal/websocket"
	"raptor/internal/worker"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to the config file")
		role       = flag.String("role", config.RoleAll, "worker role: all|executor|monitor|consumer|notifier|maintenance")
	)
	flag.Parse()

	setupLogger()
	banner(*role)

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if err := cfg.Validate(*role); err != nil {
		log.Fatal().Err(err).Str("role", *role).Msg("config rejected")
	}
	cfg.SetOnChange(func(c *config.Config) {
		log.Info().Msg("config reloaded; new tunables apply to future workers")
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.StoreDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("store connection failed")
	}
	defer st.Close()

	if err := run(ctx, *role, cfg, st); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker exited")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, role string, cfg *config.Manager, st *store.Store) error {
	c := cfg.Get()
	workerID := worker.Identity(role)
	log.Info().Str("worker", workerID).Str("role", role).Msg("worker identity assigned")

	runsExecutor := role == config.RoleAll || role == config.RoleExecutor
	runsMonitor := role == config.RoleAll || role == config.RoleMonitor
	runsConsumer := (role == config.RoleAll || role == config.RoleConsumer) && c.Features.CandidateConsumer
	runsNotifier := role == config.RoleAll || role == config.RoleNotifier
	runsMaintenance := role == config.RoleAll || role == config.RoleMaintenance
	// The monitor pushes exits into an in-process queue, so any role that
	// watches positions also carries the sell engine.
	needsChain := runsExecutor || runsMonitor

	if runsMonitor && !c.Features.PositionMonitor {
		log.Warn().Msg("position monitor disabled by feature flag")
		runsMonitor = false
	}

	gate := trading.NewGate(st)

	var auditLog *audit.Log
	if c.Audit.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Audit.SQLitePath), 0o755); err != nil {
			return err
		}
		l, err := audit.Open(c.Audit.SQLitePath)
		if err != nil {
			return err
		}
		defer l.Close()
		auditLog = l
		gate.SetAudit(l)
	}

	g, ctx := errgroup.WithContext(ctx)

	probes := []health.Probe{
		{Name: "store", Check: st.Ping},
	}

	var executor *trading.Executor
	var rpc *blockchain.RPCClient
	if needsChain {
		rpc = blockchain.NewRPCClient(cfg.PrimaryRPCURL(), cfg.FallbackRPCURL(), "")
		probes = append(probes, health.Probe{Name: "rpc", Check: rpc.Ping})

		cache := blockchain.NewBlockhashCache(rpc, 2*time.Second, 10*time.Second)
		if err := cache.Start(); err != nil {
			return err
		}
		defer cache.Stop()

		keystore, err := blockchain.NewKeystore(cfg.KeystorePassphrase())
		if err != nil {
			return err
		}

		curve := router.NewCurveRouter(c.Router.CurveTradeURL, rpc)
		aggregator := router.NewAggregatorRouter(
			c.Router.AggregatorURL, cfg.AggregatorKeys(), c.Router.MaxPriorityLamports, rpc)
		routers := router.NewFactory(curve, aggregator)

		exits := trading.NewExitQueue(c.Monitor.ExitQueueSize)
		executor = trading.NewExecutor(st, gate, routers, rpc, keystore, cache, exits, trading.ExecutorConfig{
			Chain:          store.ChainSolana,
			WorkerID:       workerID,
			PollInterval:   cfg.JobPoll(),
			ClaimLimit:     c.Jobs.ClaimLimit,
			Lease:          time.Duration(c.Jobs.LeaseSeconds) * time.Second,
			ConfirmTimeout: time.Duration(c.Router.ConfirmTimeoutSec) * time.Second,
		})

		g.Go(func() error {
			exits.Run(ctx, c.Monitor.ExitWorkers, executor.HandleExit)
			return nil
		})

		if runsExecutor {
			g.Go(func() error { return executor.Run(ctx) })
		}

		if runsMonitor {
			var feed *websocket.ActivityFeed
			ws, err := websocket.NewClient(cfg.WSURL())
			if err != nil {
				log.Warn().Err(err).Msg("websocket unavailable, monitor will poll only")
			} else {
				defer ws.Close()
				feed = websocket.NewActivityFeed(ws, time.Second)
				probes = append(probes, health.Probe{Name: "websocket", Check: ws.Ping})
			}

			prices := oracle.NewClient(oracle.Options{
				BaseURL:    c.Oracle.BaseURL,
				APIKey:     os.Getenv(c.Oracle.APIKeyEnv),
				CacheTTL:   time.Duration(c.Oracle.CacheTTLSec) * time.Second,
				CacheMax:   c.Oracle.CacheMaxSize,
				RatePerSec: c.Oracle.RatePerSec,
				BurstLimit: c.Oracle.BurstLimit,
			})
			defer prices.Close()

			monitor := trading.NewMonitor(st, prices, feed, exits, trading.MonitorConfig{
				Chain:              store.ChainSolana,
				PollInterval:       cfg.MonitorPoll(),
				WatchRefreshCycles: c.Monitor.WatchRefreshCycles,
			})
			g.Go(func() error { return monitor.Run(ctx) })
		}
	}

	if runsConsumer {
		consumer := trading.NewConsumer(st, gate, trading.ConsumerConfig{
			Chain:           store.ChainSolana,
			PollInterval:    time.Duration(c.Candidates.PollSeconds) * time.Second,
			BatchSize:       c.Candidates.BatchSize,
			MaxCandidateAge: time.Duration(c.Candidates.MaxAgeSeconds) * time.Second,
		})
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if runsNotifier {
		notifier := notify.New(st, notify.NewTelegramSender(cfg.TelegramToken()), notify.Config{
			WorkerID:     workerID,
			PollInterval: time.Duration(c.Notifier.PollMs) * time.Millisecond,
			ClaimLimit:   c.Notifier.ClaimLimit,
		})
		g.Go(func() error { return notifier.Run(ctx) })
	}

	if runsMaintenance {
		maintenance := trading.NewMaintenance(st, trading.MaintenanceConfig{
			Interval:         time.Duration(c.Maintenance.IntervalSeconds) * time.Second,
			StaleExecAge:     time.Duration(c.Maintenance.StaleExecAgeSeconds) * time.Second,
			CandidateMaxAge:  time.Duration(c.Candidates.MaxAgeSeconds) * time.Second,
			FailedTriggerAge: time.Duration(c.Maintenance.FailedTriggerAgeSeconds) * time.Second,
		})
		g.Go(func() error { return maintenance.Run(ctx) })
	}

	checker := health.NewChecker(probes...)
	checker.Start(ctx)

	server := ingest.NewServer(
		c.Ingest.ListenHost, c.Ingest.ListenPort, st, checker,
		os.Getenv(c.Ingest.BearerTokenEnv),
	)
	if executor != nil {
		server.SetEmergency(executor.EmergencySell, auditLog)
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown()
	})

	log.Info().
		Str("addr", c.Ingest.ListenHost).
		Int("port", c.Ingest.ListenPort).
		Msg("🦖 raptor running")

	return g.Wait()
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func banner(role string) {
	color.Cyan("raptor trade lifecycle engine")
	color.White("role: %s", role)
}
