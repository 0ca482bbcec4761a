package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/orkarun/orka/core"
)

// Status is the session's state machine position (spec §4.5 "State machine
// for a session": IDLE -> ACTIVE -> REFRESHING -> ACTIVE, ANY -> SHUTDOWN).
type Status string

const (
	StatusIdle       Status = "idle"
	StatusActive     Status = "active"
	StatusRefreshing Status = "refreshing"
	StatusShutdown   Status = "shutdown"
)

// SatelliteConfig declares one optional, role-specific LLM call run
// alongside a refresh (spec §4.5 "Satellites: when enabled, for each
// declared satellite role (e.g. summarizer), call its LLM with a
// role-specific prompt built from the state; on success, merge its output
// back into state; on failure, publish an alert and continue.").
type SatelliteConfig struct {
	Role           string
	PromptTemplate string // "{{state}}" is replaced with the composed state text
	Client         core.AIClient
	MergeField     string // state field the satellite's output is merged into ("summary" or "intent")
}

// Config tunes a Session's debounce/threshold behavior (ambient stack
// A.2's StreamingConfig: "debounce ms, token budgets").
type Config struct {
	DebounceInterval time.Duration
	DeltaThreshold   int // estimated tokens of unrefreshed ingress that force an immediate refresh
	Composer         *PromptComposer
	Satellites       []SatelliteConfig
}

// DefaultConfig returns reasonable defaults grounded on the teacher's own
// debounce usage (ui/session_redis.go heartbeat/TTL refresh cadence).
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 2 * time.Second,
		DeltaThreshold:   200,
		Composer:         NewPromptComposer(4000, 1500, 800, 500),
	}
}

// Session is one long-running Streaming Runtime reactor (spec §4.5).
type Session struct {
	ID        string
	State     *StreamingState
	Bus       *EventBus
	Client    core.AIClient
	Logger    core.Logger
	Telemetry core.Telemetry
	Cfg       Config

	ingress chan WireMessage

	mu                   sync.Mutex
	status               Status
	unrefreshedDelta     int
	lastSatelliteSummary string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession constructs a session in the IDLE state. Call Run to start its
// main loop.
func NewSession(id string, inv Invariants, client core.AIClient, logger core.Logger, cfg Config) *Session {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.Composer == nil {
		cfg.Composer = DefaultConfig().Composer
	}
	return &Session{
		ID:        id,
		State:     NewStreamingState(inv),
		Bus:       NewEventBus(id),
		Client:    client,
		Logger:    logger,
		Telemetry: &core.NoOpTelemetry{},
		Cfg:       cfg,
		ingress:   make(chan WireMessage, 64),
		status:    StatusIdle,
		done:      make(chan struct{}),
	}
}

// Status returns the session's current state-machine position.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(v Status) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

// SubmitIngress enqueues an ingress message for the main loop. Transports
// (SSE read side, WebSocket) call this for every inbound frame.
func (s *Session) SubmitIngress(msg WireMessage) {
	msg.Type = TypeIngress
	select {
	case s.ingress <- msg:
	default:
		// Ingress is slower than the main loop can ever be in practice
		// (refresh is the bottleneck); a full channel means the session is
		// shutting down or badly backed up, so drop rather than block the
		// caller's HTTP handler.
	}
}

// Run starts the main loop (spec §4.5 "Main loop") and blocks until ctx is
// cancelled or Shutdown is called. Intended to run in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.done)

	debounce := time.NewTimer(s.Cfg.DebounceInterval)
	defer debounce.Stop()
	stopDebounce(debounce)

	for {
		select {
		case <-ctx.Done():
			s.setStatus(StatusShutdown)
			return

		case msg, ok := <-s.ingress:
			if !ok {
				s.setStatus(StatusShutdown)
				return
			}
			s.handleIngress(msg)
			if s.shouldRefreshNow() {
				s.refresh(ctx)
				continue
			}
			stopDebounce(debounce)
			debounce.Reset(s.Cfg.DebounceInterval)

		case <-debounce.C:
			if s.Status() == StatusActive {
				s.refresh(ctx)
			}
		}
	}
}

func stopDebounce(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// Shutdown persists the session's trace and stops the main loop (spec §4.5
// "Shutdown: persist trace to a file; signal workers.").
func (s *Session) Shutdown(tracePath string) error {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	var err error
	if tracePath != "" {
		err = s.writeTrace(tracePath)
	}
	s.Bus.Close()
	return err
}

func (s *Session) handleIngress(msg WireMessage) {
	if s.Status() == StatusIdle {
		s.setStatus(StatusActive)
	}

	s.Bus.Publish(msg)

	switch payload := msg.Payload.(type) {
	case string:
		entry := HistoryEntry{Role: "user", Content: payload, TimestampMs: msg.TimestampMs}
		_, err := s.State.ApplyPatch(Patch{
			Fields:      map[string]interface{}{"intent": payload, "append_history": entry},
			TimestampMs: msg.TimestampMs,
			Provenance:  msg.Source,
		})
		if err != nil && err != ErrStalePatch {
			s.publishAlert(err.Error(), msg.Source)
			return
		}
		s.mu.Lock()
		s.unrefreshedDelta += estimateTokens(payload)
		s.mu.Unlock()

	case Patch:
		_, err := s.State.ApplyPatch(payload)
		if err != nil {
			s.publishAlert(err.Error(), msg.Source)
		}
	}
}

func (s *Session) shouldRefreshNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unrefreshedDelta >= s.Cfg.DeltaThreshold
}

func (s *Session) publishAlert(message, source string) {
	s.Bus.Publish(WireMessage{
		Channel:     s.ID + ".alerts",
		Type:        TypeAlert,
		Payload:     map[string]string{"error": message},
		TimestampMs: nowMs(),
		Source:      source,
		StateVersion: s.State.Snapshot().Version,
	})
}

// nowMs is the only place in this package that reads wall-clock time, kept
// narrow so tests can avoid depending on it where possible.
func nowMs() int64 {
	return time.Now().UnixMilli()
}
