// Package gate decides when the meeting assistant should act on what it
// hears.
//
// Every finalized voice record passes through a [Machine]. Utterances that
// address the assistant by name are classified as a request for a reply, a
// request to end the meeting, or nothing. Ending a meeting is two-stage: the
// request opens a pending command owned by the requesting speaker, the
// assistant asks aloud for confirmation, and only the owner's confirming
// answer ends the meeting. A pending command expires after a fixed TTL,
// checked lazily on the next utterance.
//
// Classification failures never trigger an action: they fall back to
// [ActionNone] and [ConfirmUnclear].
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/playback"
	"github.com/MrWong99/huddle/internal/transcript"
)

// DefaultConfirmTTL is how long a pending command waits for its answer.
const DefaultConfirmTTL = 20 * time.Second

// Default spoken prompts.
const (
	DefaultConfirmPrompt = "Do you want me to end the meeting now? Please say yes or no."
	DefaultDeniedText    = "Okay, the meeting continues."
)

// Classifier is the decision service.
type Classifier interface {
	// Classify decides how to react to an utterance that addressed the
	// assistant.
	Classify(ctx context.Context, rec transcript.Record) (Action, error)

	// Confirm interprets the owner's answer to a pending command.
	Confirm(ctx context.Context, rec transcript.Record, pending PendingCommand) (Confirmation, error)
}

// Responder produces spoken replies.
type Responder interface {
	Reply(ctx context.Context, rec transcript.Record) (string, error)
}

// Speaker accepts speech for playback. [*playback.Queue] implements it.
type Speaker interface {
	Enqueue(item playback.Item) error
}

// Cue starts a repeating latency cue. [*playback.CueLoop] implements it.
type Cue interface {
	Start() (stop func())
}

// State is the confirmation state of a [Machine].
type State int

const (
	StateIdle State = iota
	StateAwaitingConfirmation
)

// String returns the snake_case name of the state.
func (s State) String() string {
	if s == StateAwaitingConfirmation {
		return "awaiting_confirmation"
	}
	return "idle"
}

// CommandType names a command that needs confirmation.
type CommandType string

// CommandEndMeeting ends the meeting.
const CommandEndMeeting CommandType = "end_meeting"

// PendingCommand is a command waiting for its owner's confirmation.
type PendingCommand struct {
	Type        CommandType
	SpeakerID   string
	RequestedAt time.Time
	ExpiresAt   time.Time
}

// Outcome is what [Machine.HandleUtterance] did with an utterance.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeResponding Outcome = "responding"
	OutcomeAwaiting   Outcome = "awaiting_confirmation"
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeDenied     Outcome = "denied"
	OutcomeUnclear    Outcome = "unclear"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Config configures a [Machine].
type Config struct {
	// Names are the assistant's name variants. Ignored when Matcher is set.
	Names   []string
	Matcher *NameMatcher

	Classifier Classifier
	Responder  Responder
	Authorizer Authorizer

	// Speaker receives replies and prompts. Required.
	Speaker Speaker

	// Thinking plays while a reply is generated. Optional.
	Thinking Cue

	// OnEnd is called exactly once when ending the meeting is confirmed.
	OnEnd func(ctx context.Context, speakerID string)

	// ConfirmTTL bounds how long a pending command waits. Default: 20s.
	ConfirmTTL time.Duration

	// ConfirmPrompt is spoken when a command opens. Default:
	// [DefaultConfirmPrompt].
	ConfirmPrompt string

	// DeniedCue is a WAV file played when the owner declines. When empty,
	// DeniedText is spoken instead.
	DeniedCue  string
	DeniedText string

	Now     func() time.Time
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Machine is the per-meeting gate. It is safe for concurrent use, though a
// meeting feeds it from a single goroutine.
type Machine struct {
	cfg     Config
	matcher *NameMatcher
	log     *slog.Logger

	mu      sync.Mutex
	pending *PendingCommand
	ended   bool

	replies sync.WaitGroup
}

// New creates a [Machine].
func New(cfg Config) (*Machine, error) {
	var errs []error
	if cfg.Classifier == nil {
		errs = append(errs, errors.New("gate: classifier is required"))
	}
	if cfg.Speaker == nil {
		errs = append(errs, errors.New("gate: speaker is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = DenyAll
	}
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = DefaultConfirmTTL
	}
	if cfg.ConfirmPrompt == "" {
		cfg.ConfirmPrompt = DefaultConfirmPrompt
	}
	if cfg.DeniedText == "" {
		cfg.DeniedText = DefaultDeniedText
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = NewNameMatcher(cfg.Names)
	}
	return &Machine{cfg: cfg, matcher: matcher, log: cfg.Logger}, nil
}

// State returns the current state. An expired command still counts as
// pending until the next utterance drops it.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		return StateAwaitingConfirmation
	}
	return StateIdle
}

// Pending returns the pending command, if any.
func (m *Machine) Pending() (PendingCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return PendingCommand{}, false
	}
	return *m.pending, true
}

// Run feeds every record from ch to [Machine.HandleUtterance] until ch is
// closed or ctx ends.
func (m *Machine) Run(ctx context.Context, ch <-chan transcript.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			m.HandleUtterance(ctx, rec)
		}
	}
}

// Wait blocks until every reply started by the machine has been enqueued or
// has failed.
func (m *Machine) Wait() { m.replies.Wait() }

// HandleUtterance advances the machine with one finalized record.
func (m *Machine) HandleUtterance(ctx context.Context, rec transcript.Record) Outcome {
	if rec.Source != transcript.SourceVoice || rec.Unavailable || strings.TrimSpace(rec.Text) == "" {
		return OutcomeIgnored
	}
	log := m.log.With("speaker_id", rec.SpeakerID)
	now := m.cfg.Now()

	m.mu.Lock()
	if m.pending != nil && !now.Before(m.pending.ExpiresAt) {
		log.Info("gate: pending command expired",
			"command", m.pending.Type, "owner", m.pending.SpeakerID)
		m.cfg.Metrics.RecordGateDecision(ctx, "confirm", "expired")
		m.pending = nil
	}
	pending := m.pending
	m.mu.Unlock()

	if pending != nil && pending.SpeakerID == rec.SpeakerID {
		return m.confirm(ctx, log, rec, pending)
	}

	variant, ok := m.matcher.Addressed(rec.Text)
	if !ok {
		return OutcomeIgnored
	}

	start := time.Now()
	action, err := m.cfg.Classifier.Classify(ctx, rec)
	m.cfg.Metrics.RecordLLM(ctx, "classify", time.Since(start).Seconds())
	if err != nil {
		log.Warn("gate: classification failed", "err", err)
		action = ActionNone
	}
	m.cfg.Metrics.RecordGateDecision(ctx, "gate", action.String())
	log.Debug("gate: classified", "name", variant, "action", action.String())

	switch action {
	case ActionRespond:
		m.respond(ctx, log, rec)
		return OutcomeResponding
	case ActionCommandEnd:
		return m.open(ctx, log, rec, now)
	default:
		return OutcomeIgnored
	}
}

// confirm resolves the owner's answer to pending.
func (m *Machine) confirm(ctx context.Context, log *slog.Logger, rec transcript.Record, pending *PendingCommand) Outcome {
	start := time.Now()
	c, err := m.cfg.Classifier.Confirm(ctx, rec, *pending)
	m.cfg.Metrics.RecordLLM(ctx, "confirm", time.Since(start).Seconds())
	if err != nil {
		log.Warn("gate: confirmation classification failed", "err", err)
		c = ConfirmUnclear
	}
	m.cfg.Metrics.RecordGateDecision(ctx, "confirm", c.String())

	m.mu.Lock()
	if m.pending != pending {
		// Resolved or dropped while the classifier ran.
		m.mu.Unlock()
		return OutcomeIgnored
	}
	switch c {
	case ConfirmYes:
		m.pending = nil
		fire := !m.ended
		m.ended = true
		m.mu.Unlock()
		log.Info("gate: command confirmed", "command", pending.Type)
		if fire && m.cfg.OnEnd != nil {
			m.cfg.OnEnd(ctx, pending.SpeakerID)
		}
		return OutcomeConfirmed
	case ConfirmNo:
		m.pending = nil
		m.mu.Unlock()
		log.Info("gate: command denied", "command", pending.Type)
		m.sayDenied(log, rec.SpeakerID)
		return OutcomeDenied
	default:
		m.mu.Unlock()
		return OutcomeUnclear
	}
}

// open creates a pending end-meeting command and asks for confirmation.
func (m *Machine) open(ctx context.Context, log *slog.Logger, rec transcript.Record, now time.Time) Outcome {
	if !m.cfg.Authorizer.CanEndMeeting(ctx, rec.SpeakerID) {
		log.Info("gate: end request from unprivileged speaker ignored")
		return OutcomeIgnored
	}

	m.mu.Lock()
	if m.pending != nil || m.ended {
		m.mu.Unlock()
		return OutcomeIgnored
	}
	p := &PendingCommand{
		Type:        CommandEndMeeting,
		SpeakerID:   rec.SpeakerID,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.cfg.ConfirmTTL),
	}
	m.pending = p
	m.mu.Unlock()

	err := m.cfg.Speaker.Enqueue(playback.Item{
		Text:      m.cfg.ConfirmPrompt,
		SpeakerID: rec.SpeakerID,
		Origin:    playback.OriginBot,
		Priority:  playback.PriorityHigh,
	})
	if err != nil {
		m.mu.Lock()
		if m.pending == p {
			m.pending = nil
		}
		m.mu.Unlock()
		log.Warn("gate: confirmation prompt failed, pending command rolled back", "err", err)
		return OutcomeRolledBack
	}
	log.Info("gate: awaiting confirmation", "command", p.Type, "expires_at", p.ExpiresAt)
	return OutcomeAwaiting
}

// respond generates a reply in the background with the thinking cue running.
func (m *Machine) respond(ctx context.Context, log *slog.Logger, rec transcript.Record) {
	if m.cfg.Responder == nil {
		log.Debug("gate: no responder configured")
		return
	}
	stop := func() {}
	if m.cfg.Thinking != nil {
		stop = m.cfg.Thinking.Start()
	}
	m.replies.Go(func() {
		start := time.Now()
		reply, err := m.cfg.Responder.Reply(ctx, rec)
		stop()
		m.cfg.Metrics.RecordLLM(ctx, "reply", time.Since(start).Seconds())
		if err != nil {
			log.Warn("gate: reply failed", "err", err)
			return
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return
		}
		if err := m.cfg.Speaker.Enqueue(playback.Item{
			Text:      reply,
			SpeakerID: rec.SpeakerID,
			Origin:    playback.OriginResponder,
		}); err != nil {
			log.Warn("gate: reply dropped", "err", err)
		}
	})
}

func (m *Machine) sayDenied(log *slog.Logger, speakerID string) {
	item := playback.Item{SpeakerID: speakerID, Origin: playback.OriginBot, Priority: playback.PriorityHigh}
	if m.cfg.DeniedCue != "" {
		item.Cue = m.cfg.DeniedCue
	} else {
		item.Text = m.cfg.DeniedText
	}
	if err := m.cfg.Speaker.Enqueue(item); err != nil {
		log.Warn("gate: denial cue dropped", "err", err)
	}
}
