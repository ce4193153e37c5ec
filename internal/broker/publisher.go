package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LLL3993/Music-Microservices/internal/models"
	"github.com/LLL3993/Music-Microservices/pkg/infra"
	"github.com/LLL3993/Music-Microservices/pkg/metrics"
)

// ErrBrokerUnavailable is returned while the publisher waits before redialing the broker
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Session is a single live link able to publish with confirms
type Session interface {
	Publish(ctx context.Context, evt models.OutboxEvent) error
	IsHealthy() bool
	Close() error
}

// Dialer opens a new Session
type Dialer func() (Session, error)

// ReconnectingPublisher publishes through a Session and re-dials it on demand or from Maintain.
// Publish never blocks on reconnection: while the broker is down it fails fast so the
// relay records the attempt and moves on.
type ReconnectingPublisher struct {
	dial    Dialer
	backoff *infra.Backoff
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	session Session
}

func NewReconnectingPublisher(dial Dialer, backoff *infra.Backoff, logger *slog.Logger) *ReconnectingPublisher {
	return &ReconnectingPublisher{
		dial:    dial,
		backoff: backoff,
		logger:  logger,
		now:     time.Now,
	}
}

// RabbitMQDialer dials RabbitMQClient sessions for url
func RabbitMQDialer(url string, confirmTimeout time.Duration, logger *slog.Logger) Dialer {
	return func() (Session, error) {
		client, err := NewRabbitMQClient(url, confirmTimeout, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (p *ReconnectingPublisher) Publish(ctx context.Context, evt models.OutboxEvent) error {
	session, err := p.current()
	if err != nil {
		return err
	}

	if err := session.Publish(ctx, evt); err != nil {
		if !session.IsHealthy() {
			p.drop(session)
		}
		return err
	}
	return nil
}

// Connect dials a session unless one is live or the backoff gate is closed
func (p *ReconnectingPublisher) Connect() error {
	_, err := p.current()
	return err
}

// Maintain dials at once and keeps the link up every interval until ctx is done,
// so an idle relay still holds a session and reports broker health truthfully.
func (p *ReconnectingPublisher) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// dial failures are logged and gated by current
		_ = p.Connect()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *ReconnectingPublisher) current() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil && p.session.IsHealthy() {
		return p.session, nil
	}
	if p.session != nil {
		p.session.Close()
		p.session = nil
	}

	now := p.now()
	if !p.backoff.Allow(now) {
		return nil, ErrBrokerUnavailable
	}

	metrics.RabbitMQReconnections.Inc()
	session, err := p.dial()
	if err != nil {
		wait := p.backoff.Fail(now)
		metrics.HealthStatus.Set(0)
		p.logger.Error("RabbitMQ link failure, retrying", "wait", wait, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	p.logger.Info("RabbitMQ link established 🚀")
	p.backoff.Reset()
	p.session = session
	return session, nil
}

func (p *ReconnectingPublisher) drop(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == s {
		p.session.Close()
		p.session = nil
	}
}

// IsHealthy reports whether a live session is currently held
func (p *ReconnectingPublisher) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.session.IsHealthy()
}

func (p *ReconnectingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		err := p.session.Close()
		p.session = nil
		return err
	}
	return nil
}
