package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"

	cfgpkg "github.com/smartcharger/charging-server/internal/config"
)

// NewPool 创建 pgx 连接池，供迁移与健康检查使用
func NewPool(ctx context.Context, cfg cfgpkg.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		// 只记录慢点/异常，SQL全量追踪交给gorm侧按需打开
		pc.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zapTracer{logger},
			LogLevel: tracelog.LogLevelWarn,
		}
	}

	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pc.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// zapTracer 将 pgx tracelog 输出接入 zap
type zapTracer struct {
	l *zap.Logger
}

func (t zapTracer) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	var log func(string, ...zap.Field)
	switch level {
	case tracelog.LogLevelError:
		log = t.l.Error
	case tracelog.LogLevelWarn:
		log = t.l.Warn
	case tracelog.LogLevelInfo:
		log = t.l.Info
	default:
		log = t.l.Debug
	}
	log(msg, fields...)
}
