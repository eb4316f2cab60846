// Package oracle runs the scoring conversation with a chat model.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/psyclass/internal/llm"
	"github.com/ppiankov/psyclass/internal/model"
)

// State is the conversation phase
type State int

const (
	// StatePriming is a conversation holding only the priming exchange
	StatePriming State = iota
	// StateActive is a conversation with at least one scored query
	StateActive
)

func (s State) String() string {
	if s == StatePriming {
		return "priming"
	}
	return "active"
}

// Exchange is one user turn and the reply it produced
type Exchange struct {
	User      string
	Assistant string
}

// Config bounds the conversation
type Config struct {
	// ResetAfter is the number of scored queries after which the
	// conversation returns to the priming exchange
	ResetAfter int

	// MaxAttempts is the number of model calls allowed per query
	MaxAttempts int
}

// DefaultConfig returns the default conversation bounds
func DefaultConfig() Config {
	return Config{ResetAfter: 8, MaxAttempts: 3}
}

// Oracle scores queries through a single long-lived conversation. It is not
// safe for concurrent use.
type Oracle struct {
	backend     llm.Backend
	logger      *zap.Logger
	resetAfter  int
	maxAttempts int

	priming Exchange
	history []Exchange
	turns   int
	state   State
}

// New primes a conversation with backend. The priming reply is kept and
// replayed on every reset, so priming happens exactly once.
func New(ctx context.Context, backend llm.Backend, cfg Config, logger *zap.Logger) (*Oracle, error) {
	if backend == nil {
		return nil, fmt.Errorf("oracle: backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = def.ResetAfter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	o := &Oracle{
		backend:     backend,
		logger:      logger.Named("oracle"),
		resetAfter:  cfg.ResetAfter,
		maxAttempts: cfg.MaxAttempts,
	}

	prompt := PrimingPrompt()
	reply, err := llm.Collect(backend.Converse(ctx, []llm.Turn{{Role: llm.RoleUser, Content: prompt}}))
	if err != nil {
		return nil, fmt.Errorf("prime %s: %w", backend.Name(), err)
	}
	o.priming = Exchange{User: prompt, Assistant: strings.TrimSpace(reply)}
	o.reset()

	o.logger.Debug("conversation primed",
		zap.String("backend", backend.Name()),
		zap.Int("reset_after", o.resetAfter),
		zap.Int("max_attempts", o.maxAttempts))
	return o, nil
}

// Classify scores one query. Up to MaxAttempts model calls are made; each
// unparsable reply stays in the conversation and the same query is sent
// again. Exhaustion resets the conversation and returns a *MalformedError. Backend failures are returned
// as is and leave the conversation unchanged.
func (o *Oracle) Classify(ctx context.Context, q model.Query) (model.Scores, error) {
	if o.turns >= o.resetAfter {
		o.logger.Debug("resetting conversation", zap.Int("turns", o.turns))
		o.reset()
	}

	msg, err := queryMessage(q)
	if err != nil {
		return nil, err
	}

	var (
		lastErr error
		lastRaw string
	)
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		reply, err := o.converse(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.backend.Name(), err)
		}

		scores, err := Parse(reply)
		if err == nil {
			o.turns++
			o.state = StateActive
			return scores, nil
		}

		lastErr, lastRaw = err, reply
		o.logger.Warn("malformed model output",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.maxAttempts),
			zap.Error(err))
	}

	// The failed exchanges are the noise the bound exists to drop
	o.reset()
	return nil, &MalformedError{Attempts: o.maxAttempts, Raw: lastRaw, Err: lastErr}
}

// State returns the conversation phase
func (o *Oracle) State() State { return o.state }

// Turns returns the number of scored queries since the last reset
func (o *Oracle) Turns() int { return o.turns }

// History returns a copy of the conversation, priming exchange first
func (o *Oracle) History() []Exchange {
	out := make([]Exchange, len(o.history))
	copy(out, o.history)
	return out
}

func (o *Oracle) reset() {
	o.history = []Exchange{o.priming}
	o.turns = 0
	o.state = StatePriming
}

// converse sends user after the full history and records the exchange
func (o *Oracle) converse(ctx context.Context, user string) (string, error) {
	turns := make([]llm.Turn, 0, 2*len(o.history)+1)
	for _, ex := range o.history {
		turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: ex.User})
		if ex.Assistant != "" {
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: ex.Assistant})
		}
	}
	turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: user})

	reply, err := llm.Collect(o.backend.Converse(ctx, turns))
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	o.history = append(o.history, Exchange{User: user, Assistant: reply})
	return reply, nil
}
