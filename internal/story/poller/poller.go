// Package poller asks the story service whether the next page's illustration
// is ready and reports once when it is.
package poller

import (
	"context"
	"sync"
	"time"

	"picturebook/internal/metrics"

	"github.com/sirupsen/logrus"
)

const DefaultInterval = 3 * time.Second

// StatusChecker reports whether the image for page is ready.
type StatusChecker interface {
	ImageStatus(ctx context.Context, sessionID string, page int) (bool, error)
}

// Result is delivered once per poll, when the image is ready or polling failed.
type Result struct {
	SessionID string
	Page      int
	Ready     bool
	Err       error
}

type Poller struct {
	checker  StatusChecker
	interval time.Duration
	maxPages int
	metrics  *metrics.Metrics
	log      *logrus.Entry

	mu       sync.Mutex
	active   bool
	inFlight bool
	gen      uint64
	done     chan struct{}
	cancel   context.CancelFunc
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

func New(checker StatusChecker, maxPages int, opts ...Option) *Poller {
	p := &Poller{
		checker:  checker,
		interval: DefaultInterval,
		maxPages: maxPages,
		log:      logrus.WithField("component", "poller"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start polls readiness of page currentPage+1. It reports false and does
// nothing when there is no session, the next page is past the last one, or a
// poll is already running.
func (p *Poller) Start(sessionID string, currentPage int, notify func(Result)) bool {
	target := currentPage + 1
	if sessionID == "" || target > p.maxPages {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		p.log.Debug("Poll already active")
		return false
	}

	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.active = true
	p.inFlight = false
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.gen, p.done, sessionID, target, notify)

	p.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"page":       target,
	}).Debug("Image poll started")
	return true
}

// Stop ends polling. Safe to call when no poll is running.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Active reports whether a poll is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) stopLocked() {
	if !p.active {
		return
	}
	p.gen++
	p.active = false
	p.inFlight = false
	close(p.done)
	p.cancel()
	p.done = nil
	p.cancel = nil
}

func (p *Poller) loop(ctx context.Context, gen uint64, done <-chan struct{}, sessionID string, page int, notify func(Result)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.tick(ctx, gen, sessionID, page, notify)
		}
	}
}

func (p *Poller) tick(ctx context.Context, gen uint64, sessionID string, page int, notify func(Result)) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if p.inFlight {
		p.mu.Unlock()
		p.metrics.Poll("skipped")
		p.log.Debug("Previous image check still running, skipping tick")
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go p.check(ctx, gen, sessionID, page, notify)
}

func (p *Poller) check(ctx context.Context, gen uint64, sessionID string, page int, notify func(Result)) {
	ready, err := p.checker.ImageStatus(ctx, sessionID, page)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}

	log := p.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"page":       page,
	})
	result := Result{SessionID: sessionID, Page: page}
	switch {
	case err != nil:
		p.stopLocked()
		p.mu.Unlock()
		p.metrics.Poll("error")
		log.WithError(err).Warn("Image status check failed, polling stopped")
		result.Err = err
	case ready:
		p.stopLocked()
		p.mu.Unlock()
		p.metrics.Poll("ready")
		log.Info("Next image is ready")
		result.Ready = true
	default:
		p.inFlight = false
		p.mu.Unlock()
		p.metrics.Poll("pending")
		return
	}

	if notify != nil {
		notify(result)
	}
}
