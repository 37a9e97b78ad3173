package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smartcharger/charging-server/internal/api"
	"github.com/smartcharger/charging-server/internal/app"
	cfgpkg "github.com/smartcharger/charging-server/internal/config"
	"github.com/smartcharger/charging-server/internal/health"
	"github.com/smartcharger/charging-server/internal/httpserver"
	"github.com/smartcharger/charging-server/internal/metrics"
	"github.com/smartcharger/charging-server/internal/migrate"
	"github.com/smartcharger/charging-server/internal/notify"
	"github.com/smartcharger/charging-server/internal/pilelock"
	"github.com/smartcharger/charging-server/internal/service"
	"github.com/smartcharger/charging-server/internal/storage/gormrepo"
	"github.com/smartcharger/charging-server/internal/storage/pg"
	redisstorage "github.com/smartcharger/charging-server/internal/storage/redis"
	"github.com/smartcharger/charging-server/pkg/ws"
)

// Run 统一启动流程：基础组件 → 数据库 → Redis → 业务服务 →
// 后台巡检 → HTTP服务，全部就绪后等待关闭信号。
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting charging server",
		zap.String("env", cfg.App.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------- 阶段1: 指标 ----------
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	// ---------- 阶段2: 数据库 ----------
	pool, err := pg.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Error("database connection failed", zap.Error(err))
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		applied, err := migrate.New(pool, "db/migrations", log).Up(ctx)
		if err != nil {
			log.Error("migration failed", zap.Error(err))
			return err
		}
		log.Info("migrations applied", zap.Int("count", applied))
	}

	gdb, err := gormrepo.Open(cfg.Database)
	if err != nil {
		log.Error("gorm open failed", zap.Error(err))
		return err
	}
	repo := gormrepo.New(gdb)
	log.Info("database ready", zap.String("dsn", maskDSN(cfg.Database.DSN)))

	healthAgg := health.NewAggregator(health.NewDatabaseChecker(pool))

	// ---------- 阶段3: Redis（可选） ----------
	var (
		redisClient *redisstorage.Client
		noticeQueue *redisstorage.NoticeQueue
		thresholds  *redisstorage.ThresholdStore
	)
	if cfg.Redis.Enabled {
		redisClient, err = redisstorage.NewClient(cfg.Redis)
		if err != nil {
			log.Error("redis initialization failed", zap.Error(err))
			return err
		}
		defer redisClient.Close()
		noticeQueue = redisstorage.NewNoticeQueue(redisClient)
		thresholds = redisstorage.NewThresholdStore(redisClient)
		healthAgg.AddChecker(health.NewRedisChecker(redisClient))
		log.Info("redis initialized", zap.String("addr", cfg.Redis.Addr))
	}

	// ---------- 阶段4: 业务服务 ----------
	locks := pilelock.New()
	policy := service.Policy{
		MaxReservationDuration: time.Duration(cfg.Engine.MaxReservationHours) * time.Hour,
		EarlyStartWindow:       time.Duration(cfg.Engine.EarlyStartMinutes) * time.Minute,
		OvertimeGrace:          time.Duration(cfg.Engine.OvertimeGraceMinutes) * time.Minute,
	}

	tmpl := notify.DefaultTemplates()
	if cfg.Engine.NoticeTemplates != "" {
		if loaded, e := notify.LoadTemplates(cfg.Engine.NoticeTemplates); e == nil {
			tmpl = loaded
			log.Info("notice templates loaded", zap.String("path", cfg.Engine.NoticeTemplates))
		} else {
			log.Warn("load notice templates failed, using defaults", zap.Error(e))
		}
	}

	var queue notify.Queue
	if noticeQueue != nil {
		queue = noticeQueue
	}
	dispatcher := notify.NewDispatcher(repo, queue, tmpl, log)

	catalog := service.NewPriceCatalog(repo, log)
	billing := service.NewBillingCalculator(catalog)
	piles := service.NewPileService(repo, locks, log)
	reservations := service.NewReservationService(repo, locks, policy, log)
	charging := service.NewChargingService(repo, locks, billing, policy, log)
	faults := service.NewFaultService(repo, locks, dispatcher, log)

	// ---------- 阶段5: 后台巡检与推送 ----------
	hub := ws.NewHub(log)
	go hub.Run()

	var thresholdSource app.ThresholdSource
	if thresholds != nil {
		thresholdSource = thresholds
	}
	monitor := app.NewOvertimeMonitor(repo, locks, dispatcher, thresholdSource,
		appm, log, cfg.Engine.OvertimeSweepInterval, policy.OvertimeGrace)
	go monitor.Start(ctx)

	expirer := app.NewReservationExpirer(reservations, appm, log, cfg.Engine.ExpireSweepInterval)
	go expirer.Start(ctx)

	if noticeQueue != nil {
		worker := app.NewNoticeWorker(noticeQueue, hub, repo, appm, log, cfg.Engine.NoticeThrottleMs)
		go worker.Start(ctx)
		log.Info("notice worker started")
	}

	// ---------- 阶段6: HTTP服务 ----------
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler)
	engine := httpSrv.Engine()

	var thresholdAPI api.ThresholdStore
	if thresholds != nil {
		thresholdAPI = thresholds
	}
	handlers := api.Handlers{
		Pile:        api.NewPileHandler(piles, reservations, log),
		Reservation: api.NewReservationHandler(reservations, appm, log),
		Charging:    api.NewChargingHandler(charging, repo, appm, log),
		Price:       api.NewPriceHandler(catalog, billing, repo, log),
		Notice:      api.NewNoticeHandler(dispatcher, thresholdAPI, cfg.Engine.OvertimeGraceMinutes, log),
		Fault:       api.NewFaultHandler(faults, log),
		WS:          api.NewWSHandler(hub, log),
	}
	api.RegisterRoutes(engine, handlers, cfg.HTTP, appm, log)
	health.RegisterHTTPRoutes(engine, healthAgg)

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))
	log.Info("all services ready")

	// ---------- 阶段7: 等待关闭信号 ----------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
	return nil
}

// maskDSN 脱敏数据库连接字符串（隐藏密码）
func maskDSN(dsn string) string {
	if idx := strings.Index(dsn, "@"); idx > 0 {
		if pwdIdx := strings.LastIndex(dsn[:idx], ":"); pwdIdx > 0 {
			return dsn[:pwdIdx+1] + "****" + dsn[idx:]
		}
	}
	return dsn
}
