package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/pkg/provider/llm"
)

// History supplies recent transcript context for prompts.
type History interface {
	Recent(ctx context.Context, n int) ([]transcript.Record, error)
}

// LogHistory serves history from an in-memory meeting log.
type LogHistory struct{ Log *transcript.Log }

// Recent returns the last n records of the log's timeline.
func (h LogHistory) Recent(_ context.Context, n int) ([]transcript.Record, error) {
	tl := h.Log.Timeline()
	if n > 0 && len(tl) > n {
		tl = tl[len(tl)-n:]
	}
	return tl, nil
}

// StoreHistory serves history from a persistent transcript store.
type StoreHistory struct {
	Store     transcript.Store
	MeetingID string
}

// Recent returns the last n stored records of the meeting.
func (h StoreHistory) Recent(ctx context.Context, n int) ([]transcript.Record, error) {
	return h.Store.Recent(ctx, h.MeetingID, n)
}

const (
	defaultHistoryLen  = 12
	defaultLLMTimeout  = 10 * time.Second
	defaultReplyTokens = 200
)

const classifyPrompt = `You are %s, a voice assistant sitting in a team meeting. You only hear a transcript.
The latest utterance mentions your name. Decide how to react and answer with a JSON object only:
{"action":"respond"} if the speaker asks you a question or asks you to do something you can answer by speaking,
{"action":"command_end"} if the speaker asks you to end, stop or close the meeting,
{"action":"none"} otherwise, including when you are only mentioned in passing.`

const confirmPrompt = `You are %s, a voice assistant in a team meeting. You asked the speaker whether the meeting should end now.
Interpret their answer and reply with a JSON object only:
{"decision":"confirm"} if they clearly agree,
{"decision":"deny"} if they clearly decline,
{"decision":"unclear"} for anything else.`

const replyPrompt = `You are %s, a voice assistant in a team meeting. Your answer is read aloud, so keep it short,
plain and conversational: at most three sentences, no lists, no markdown. Use the meeting transcript for context.`

// LLMOption configures [LLMClassifier] and [LLMResponder].
type LLMOption func(*llmBase)

// WithHistory sets the transcript context source and how many records to
// include. n <= 0 keeps the default of 12.
func WithHistory(h History, n int) LLMOption {
	return func(b *llmBase) {
		b.history = h
		if n > 0 {
			b.historyLen = n
		}
	}
}

// WithTimeout bounds each model call. Default: 10s.
func WithTimeout(d time.Duration) LLMOption {
	return func(b *llmBase) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithAssistantName sets the name the assistant answers to in prompts.
// Default: "Huddle".
func WithAssistantName(name string) LLMOption {
	return func(b *llmBase) {
		if name != "" {
			b.name = name
		}
	}
}

type llmBase struct {
	provider   llm.Provider
	history    History
	historyLen int
	timeout    time.Duration
	name       string
}

func newLLMBase(p llm.Provider, opts []LLMOption) llmBase {
	b := llmBase{
		provider:   p,
		historyLen: defaultHistoryLen,
		timeout:    defaultLLMTimeout,
		name:       "Huddle",
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// complete sends the system prompt plus transcript context and the latest
// utterance.
func (b *llmBase) complete(ctx context.Context, system string, rec transcript.Record, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req.SystemPrompt = fmt.Sprintf(system, b.name)
	req.Messages = []llm.Message{{Role: llm.RoleUser, Content: b.transcript(ctx, rec)}}
	return b.provider.Complete(ctx, req)
}

// transcript renders recent context followed by the latest utterance. A
// failing history source only costs context.
func (b *llmBase) transcript(ctx context.Context, rec transcript.Record) string {
	var sb strings.Builder
	if b.history != nil {
		recent, err := b.history.Recent(ctx, b.historyLen)
		if err == nil && len(recent) > 0 {
			sb.WriteString("Recent transcript:\n")
			for _, r := range recent {
				if r.StartedAtMs == rec.StartedAtMs && r.SpeakerID == rec.SpeakerID {
					continue
				}
				fmt.Fprintf(&sb, "%s: %s\n", speakerLabel(r), r.DisplayText())
			}
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "Latest utterance from %s: %s", speakerLabel(rec), rec.Text)
	return sb.String()
}

func speakerLabel(r transcript.Record) string {
	if r.SpeakerName != "" {
		return r.SpeakerName
	}
	if r.Source != transcript.SourceVoice {
		return "assistant"
	}
	return r.SpeakerID
}

var _ Classifier = (*LLMClassifier)(nil)

// LLMClassifier implements [Classifier] on an [llm.Provider] with JSON
// output.
type LLMClassifier struct{ llmBase }

// NewLLMClassifier creates a classifier backed by p.
func NewLLMClassifier(p llm.Provider, opts ...LLMOption) *LLMClassifier {
	return &LLMClassifier{newLLMBase(p, opts)}
}

// Classify implements [Classifier].
func (c *LLMClassifier) Classify(ctx context.Context, rec transcript.Record) (Action, error) {
	resp, err := c.complete(ctx, classifyPrompt, rec, llm.CompletionRequest{JSON: true, MaxTokens: 20})
	if errors.Is(err, llm.ErrRefused) {
		return ActionNone, nil
	}
	if err != nil {
		return ActionNone, fmt.Errorf("gate: classify: %w", err)
	}
	a, err := ParseAction(resp.Content)
	if err != nil {
		return ActionNone, fmt.Errorf("gate: classify: %w", err)
	}
	return a, nil
}

// Confirm implements [Classifier].
func (c *LLMClassifier) Confirm(ctx context.Context, rec transcript.Record, _ PendingCommand) (Confirmation, error) {
	resp, err := c.complete(ctx, confirmPrompt, rec, llm.CompletionRequest{JSON: true, MaxTokens: 20})
	if err != nil {
		return ConfirmUnclear, fmt.Errorf("gate: confirm: %w", err)
	}
	d, err := ParseConfirmation(resp.Content)
	if err != nil {
		return ConfirmUnclear, fmt.Errorf("gate: confirm: %w", err)
	}
	return d, nil
}

var _ Responder = (*LLMResponder)(nil)

// LLMResponder implements [Responder] on an [llm.Provider].
type LLMResponder struct{ llmBase }

// NewLLMResponder creates a responder backed by p.
func NewLLMResponder(p llm.Provider, opts ...LLMOption) *LLMResponder {
	return &LLMResponder{newLLMBase(p, opts)}
}

// Reply implements [Responder].
func (r *LLMResponder) Reply(ctx context.Context, rec transcript.Record) (string, error) {
	resp, err := r.complete(ctx, replyPrompt, rec, llm.CompletionRequest{
		Temperature: 0.4,
		MaxTokens:   defaultReplyTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gate: reply: %w", err)
	}
	out := strings.TrimSpace(resp.Content)
	if resp.FinishReason == llm.FinishLength {
		out = lastSentence(out)
	}
	return out, nil
}

// lastSentence cuts s after its last sentence terminator so a reply stopped
// by the token limit is not spoken mid-word. s is returned whole when it
// has no terminator.
func lastSentence(s string) string {
	if i := strings.LastIndexAny(s, ".!?"); i > 0 {
		return s[:i+1]
	}
	return s
}
