package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	submissions     prometheus.Counter
	likes           prometheus.Counter
	sseClients      prometheus.GaugeFunc
}

// NewMetrics registers the collectors. sseClients reports the number of
// connected event streams; it may be nil.
func NewMetrics(sseClients func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signwars",
			Name:      "backend_calls_total",
			Help:      "Backend calls by operation and result.",
		}, []string{"op", "result"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signwars",
			Name:      "backend_call_duration_seconds",
			Help:      "Backend call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signwars",
			Name:      "sign_submissions_total",
			Help:      "Signs submitted from the compose modal.",
		}),
		likes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signwars",
			Name:      "like_clicks_total",
			Help:      "Like clicks, one per click.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.backendCalls,
		m.backendDuration,
		m.submissions,
		m.likes,
	)
	if sseClients != nil {
		m.sseClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "signwars",
			Name:      "event_stream_clients",
			Help:      "Connected SSE clients.",
		}, sseClients)
		reg.MustRegister(m.sseClients)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeBackend(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.backendCalls.WithLabelValues(op, result).Inc()
	m.backendDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countSubmission() {
	if m != nil {
		m.submissions.Inc()
	}
}

func (m *Metrics) countLike() {
	if m != nil {
		m.likes.Inc()
	}
}

// instrumentedService records backend call metrics around a SignService.
type instrumentedService struct {
	next    SignService
	metrics *Metrics
}

// InstrumentService wraps svc so every call is counted and timed.
func InstrumentService(svc SignService, m *Metrics) SignService {
	return &instrumentedService{next: svc, metrics: m}
}

func (s *instrumentedService) ListSigns(ctx context.Context) ([]SignRecord, error) {
	start := time.Now()
	signs, err := s.next.ListSigns(ctx)
	s.metrics.observeBackend("get_signs", start, err)
	return signs, err
}

func (s *instrumentedService) CreateSign(ctx context.Context, sign EncodedSign, handle string) (SignRecord, error) {
	start := time.Now()
	rec, err := s.next.CreateSign(ctx, sign, handle)
	s.metrics.observeBackend("add_sign", start, err)
	return rec, err
}

func (s *instrumentedService) IncrementLikes(ctx context.Context, id int) (int, error) {
	start := time.Now()
	likeID, err := s.next.IncrementLikes(ctx, id)
	s.metrics.observeBackend("increment_likes", start, err)
	return likeID, err
}
