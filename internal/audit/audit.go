package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"molttok/internal/metrics"
	"molttok/internal/util"
)

// Actions recorded in the audit trail.
const (
	ActionAgentRegistered = "agent.registered"
	ActionAgentLoggedIn   = "agent.logged_in"
	ActionLoginFailed     = "agent.login_failed"
	ActionProfileUpdated  = "agent.profile_updated"
	ActionPostCreated     = "post.created"
	ActionPostDeleted     = "post.deleted"
	ActionRateLimited     = "request.rate_limited"
	ActionDocFetched      = "doc.fetched"
)

type Event struct {
	ID         uuid.UUID         `json:"id"`
	Action     string            `json:"action"`
	AgentID    string            `json:"agent_id,omitempty"`
	SubjectID  string            `json:"subject_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Sink receives batches of events. Implementations must tolerate being called
// from a single background goroutine only.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []Event) error
}

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	writeTimeout         = 5 * time.Second
)

// Publisher buffers events and delivers them to every sink in batches from a
// background goroutine. Audit is best effort: a full buffer drops the event
// and a failing sink is logged and counted, never surfaced to the caller.
type Publisher struct {
	sinks         []Sink
	events        chan Event
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time

	// mu guards closed against sends racing Close.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

type Option func(*Publisher)

func WithBufferSize(n int) Option {
	return func(p *Publisher) { p.events = make(chan Event, n) }
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) { p.batchSize = n }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) { p.flushInterval = d }
}

// NewPublisher starts the delivery goroutine. Call Close to flush and stop it.
func NewPublisher(sinks []Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sinks:         sinks,
		events:        make(chan Event, defaultBufferSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

func (p *Publisher) Publish(e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.SideEffectFailures.WithLabelValues("audit_dropped").Inc()
		util.Warn("Audit publisher closed, dropping event", zap.String("action", e.Action))
		return
	}

	select {
	case p.events <- e:
	default:
		metrics.SideEffectFailures.WithLabelValues("audit_dropped").Inc()
		util.Warn("Audit buffer full, dropping event", zap.String("action", e.Action))
	}
}

// Close stops accepting events, flushes what is buffered and waits for delivery.
// Events published afterwards are dropped.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
		<-p.done
	})
}

func (p *Publisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, p.batchSize)
	for {
		select {
		case e, ok := <-p.events:
			if !ok {
				p.deliver(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				p.deliver(batch)
				batch = make([]Event, 0, p.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.deliver(batch)
				batch = make([]Event, 0, p.batchSize)
			}
		}
	}
}

func (p *Publisher) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := sink.Write(ctx, batch)
		cancel()
		if err != nil {
			metrics.SideEffectFailures.WithLabelValues("audit_" + sink.Name()).Inc()
			util.Error("Audit sink write failed",
				zap.String("sink", sink.Name()),
				zap.Int("events", len(batch)),
				zap.Error(err))
		}
	}
}
