package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	HTTPRequestTotal     *prometheus.CounterVec // labels: method, path, status
	ReservationTotal     *prometheus.CounterVec // labels: result=created|conflict|invalid|error
	ChargingSessionTotal *prometheus.CounterVec // labels: result=started|completed|error
	ActiveSessionGauge   prometheus.Gauge       // 当前充电中会话数
	OvertimeSweepTotal   prometheus.Counter     // 超时巡检执行次数
	ViolationTotal       prometheus.Counter     // 检出的超时占位违规数
	ExpireSweepTotal     prometheus.Counter     // 预约过期任务执行次数
	ReservationExpired   prometheus.Counter     // 过期处理的预约数
	NoticeTotal          *prometheus.CounterVec // labels: status=sent|failed|dead
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		ReservationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservation_total",
			Help: "Reservation create attempts by result.",
		}, []string{"result"}),
		ChargingSessionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charging_session_total",
			Help: "Charging session operations by result.",
		}, []string{"result"}),
		ActiveSessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charging_active_sessions",
			Help: "Current number of in-flight charging sessions.",
		}),
		OvertimeSweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overtime_sweep_total",
			Help: "Overtime monitor sweep runs.",
		}),
		ViolationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overtime_violation_total",
			Help: "Overtime violations detected.",
		}),
		ExpireSweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_expire_sweep_total",
			Help: "Reservation expirer sweep runs.",
		}),
		ReservationExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reservation_expired_total",
			Help: "Reservations transitioned to EXPIRED.",
		}),
		NoticeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notice_delivery_total",
			Help: "Warning notice deliveries by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.HTTPRequestTotal,
		m.ReservationTotal,
		m.ChargingSessionTotal,
		m.ActiveSessionGauge,
		m.OvertimeSweepTotal,
		m.ViolationTotal,
		m.ExpireSweepTotal,
		m.ReservationExpired,
		m.NoticeTotal,
	)
	return m
}
