package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mai-chat/internal/domain"
)

// Dispatcher performs one round trip with the chat backend for the full
// transcript. It must not retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, turns []domain.Turn) (string, error)
}

// Outcome describes what a submit call did.
type Outcome int

const (
	OutcomeIgnoredEmpty Outcome = iota
	OutcomeIgnoredBusy
	OutcomeAnswered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnoredEmpty:
		return "ignored_empty"
	case OutcomeIgnoredBusy:
		return "ignored_busy"
	case OutcomeAnswered:
		return "answered"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PendingRequest is the single dispatch in flight.
type PendingRequest struct {
	ID      string
	History []domain.Turn
	Turn    domain.Turn
}

// Transcript is the exact sequence sent to the dispatcher.
func (p PendingRequest) Transcript() []domain.Turn {
	out := make([]domain.Turn, 0, len(p.History)+1)
	out = append(out, p.History...)
	return append(out, p.Turn)
}

type requestIDKey struct{}

// RequestIDFromContext returns the pending request ID a dispatcher is being
// called for, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// Controller drives a session: it appends turns, dispatches the transcript
// and surfaces classified failures. At most one dispatch is ever in flight;
// submits arriving meanwhile are rejected rather than queued.
type Controller struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	log        *Log
	listeners  map[int]Listener
	nextListen int
}

func NewController(d Dispatcher, logger *slog.Logger) (*Controller, error) {
	if d == nil {
		return nil, errors.New("conversation: dispatcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		dispatcher: d,
		logger:     logger,
		state:      StateIdle,
		log:        NewLog(),
		listeners:  make(map[int]Listener),
	}, nil
}

// SubmitText sends a user-typed message.
func (c *Controller) SubmitText(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return OutcomeIgnoredEmpty, nil
	}
	return c.submit(ctx, domain.UserTurn(text))
}

// SubmitExtractedContent sends text extracted from an uploaded file, wrapped
// in the analysis instruction.
func (c *Controller) SubmitExtractedContent(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return OutcomeIgnoredEmpty, nil
	}
	return c.submit(ctx, Ingest(domain.ExtractedContent{Text: text}))
}

// Snapshot returns a copy of the transcript.
func (c *Controller) Snapshot() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Snapshot()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a listener and returns a function removing it.
func (c *Controller) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) submit(ctx context.Context, turn domain.Turn) (Outcome, error) {
	c.mu.Lock()
	if c.state == StateDispatching {
		c.mu.Unlock()
		c.logger.Debug("submit ignored while dispatching")
		return OutcomeIgnoredBusy, nil
	}
	pending := PendingRequest{
		ID:      newRequestID(),
		History: c.log.Snapshot(),
		Turn:    turn,
	}
	c.log.Append(turn)
	c.state = StateDispatching
	c.mu.Unlock()

	// A panicking dispatcher or listener must not leave the controller busy.
	settled := false
	defer func() {
		if settled {
			return
		}
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
	}()

	c.emit(Event{Type: EventTurnAppended, RequestID: pending.ID, Turn: turn})
	c.emit(Event{Type: EventStateChanged, RequestID: pending.ID, State: StateDispatching})

	c.logger.Debug("dispatching transcript", "request_id", pending.ID, "turns", len(pending.History)+1)
	reply, err := c.dispatcher.Dispatch(context.WithValue(ctx, requestIDKey{}, pending.ID), pending.Transcript())
	if err != nil {
		classified := Classify(err)
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		settled = true

		c.logger.Warn("dispatch failed", "request_id", pending.ID, "classified", classified)
		c.emit(Event{Type: EventErrorSurfaced, RequestID: pending.ID, Err: classified})
		c.emit(Event{Type: EventStateChanged, RequestID: pending.ID, State: StateIdle})
		return OutcomeFailed, classified
	}

	answer := domain.AssistantTurn(reply)
	c.mu.Lock()
	c.log.Append(answer)
	c.state = StateIdle
	c.mu.Unlock()
	settled = true

	c.logger.Debug("dispatch complete", "request_id", pending.ID)
	c.emit(Event{Type: EventTurnAppended, RequestID: pending.ID, Turn: answer})
	c.emit(Event{Type: EventStateChanged, RequestID: pending.ID, State: StateIdle})
	return OutcomeAnswered, nil
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, c.listeners[id])
	}
	c.mu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

var newRequestID = func() string {
	return uuid.NewString()
}
