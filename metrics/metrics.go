// Package metrics keeps the bot's Prometheus collectors and pushes them to a Pushgateway
package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

var (
	// Registry holds every collector of the bot. It is separate from the
	// default registry so that pushes carry only our own series.
	Registry = prometheus.NewRegistry()

	chatRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "idealtype_chat_requests_total",
			Help: "Total number of streaming chat completions, partitioned by provider and outcome.",
		},
		[]string{"provider", "status"},
	)
	chatDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idealtype_chat_stream_duration_seconds",
			Help:    "Time from request to end of stream.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	completionTokens = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "idealtype_chat_completion_tokens_total",
			Help: "Completion tokens produced, exact when the provider reports usage and estimated otherwise.",
		},
		[]string{"provider", "model"},
	)
	imageRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "idealtype_image_generations_total",
			Help: "Total number of image generation calls, partitioned by backend, mode and outcome.",
		},
		[]string{"backend", "mode", "status"},
	)
	imageDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idealtype_image_generation_duration_seconds",
			Help:    "Latency of image generation calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"backend"},
	)
	pageTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "idealtype_page_transitions_total",
			Help: "Page state machine transitions.",
		},
		[]string{"from", "to"},
	)
)

// ObserveChat records the outcome of one streaming completion
func ObserveChat(provider, status string, duration time.Duration) {
	chatRequests.WithLabelValues(provider, status).Inc()
	if duration > 0 {
		chatDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// AddCompletionTokens adds produced completion tokens
func AddCompletionTokens(provider, model string, n int) {
	if n > 0 {
		completionTokens.WithLabelValues(provider, model).Add(float64(n))
	}
}

// ObserveImage records the outcome of one image generation call
func ObserveImage(backend, mode, status string, duration time.Duration) {
	imageRequests.WithLabelValues(backend, mode, status).Inc()
	imageDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// IncTransition counts a page transition
func IncTransition(from, to string) {
	pageTransitions.WithLabelValues(from, to).Inc()
}

// Pusher periodically pushes Registry to a Pushgateway
type Pusher struct {
	pusher *push.Pusher
	logger *zap.Logger
}

// NewPusher creates a pusher grouped by this process instance
func NewPusher(pushgatewayURL, jobName string, logger *zap.Logger) (*Pusher, error) {
	if pushgatewayURL == "" {
		return nil, errors.New("pushgateway URL is empty")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		logger.Warn("Could not get hostname", zap.Error(err))
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	logger.Info("Initializing Pushgateway pusher",
		zap.String("job", jobName),
		zap.String("instance", instanceID),
		zap.String("url", pushgatewayURL),
	)

	return &Pusher{
		pusher: push.New(pushgatewayURL, jobName).Gatherer(Registry).Grouping("instance", instanceID),
		logger: logger,
	}, nil
}

// Push sends the current metrics once
func (p *Pusher) Push() error {
	if err := p.pusher.Push(); err != nil {
		p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
		return err
	}
	return nil
}

// DefaultPushInterval is used when Run gets a non-positive interval
const DefaultPushInterval = 15 * time.Second

// Run pushes every interval until ctx is done, then deletes this instance's
// metrics from the gateway
func (p *Pusher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		p.logger.Warn("Invalid push interval, using default",
			zap.Duration("interval", interval),
			zap.Duration("default", DefaultPushInterval),
		)
		interval = DefaultPushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("Started periodic metrics push", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			p.cleanup()
			return
		case <-ticker.C:
			_ = p.Push()
		}
	}
}

func (p *Pusher) cleanup() {
	if err := p.pusher.Delete(); err != nil {
		p.logger.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
		return
	}
	p.logger.Info("Deleted metrics from Pushgateway")
}
