package meeting

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/huddle/internal/archive"
	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/gate"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/playback"
	"github.com/MrWong99/huddle/internal/recording"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/llm"
	"github.com/MrWong99/huddle/pkg/provider/stt"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var (
	// ErrNotFound is returned for an unknown or already ended meeting ID.
	ErrNotFound = errors.New("meeting: not found")

	// ErrAlreadyActive is returned by [Manager.Start] when the guild already
	// has a meeting.
	ErrAlreadyActive = errors.New("meeting: a meeting is already active")

	// ErrShutdown is returned by [Manager.Start] after [Manager.Shutdown].
	ErrShutdown = errors.New("meeting: manager is shut down")
)

// DefaultMergeSilence is the same-speaker gap below which snippets are
// coalesced in the summary timeline.
const DefaultMergeSilence = time.Second

// Mixer builds the mixed recording from finished tracks.
// [*recording.Builder] is the production implementation.
type Mixer interface {
	Build(ctx context.Context, tracks []recording.TrackFile, outPath string) (recording.Result, error)
}

// Settings are the tunables applied to every meeting. Zero values select
// the defaults of the component they configure.
type Settings struct {
	// Capture configures snippet cutting. The callbacks, clock and logger
	// are set per meeting.
	Capture capture.Config

	// Transcription configures the resilience policy, glossary and leak
	// guard. Transcriber, Metrics and Logger are set per meeting.
	Transcription transcribe.Config

	// MergeSilence is the coalescing gap of the summary timeline.
	MergeSilence time.Duration

	QueueCapacity int
	Voice         string

	// ThinkingCue is a WAV file repeated while a reply is generated.
	ThinkingCue string
	CueInterval time.Duration

	// Names are the assistant's name variants, the first being its
	// display name.
	Names         []string
	ConfirmTTL    time.Duration
	ConfirmPrompt string
	DeniedCue     string
	DeniedText    string

	// HistoryLen is the number of transcript records given to the model as
	// context.
	HistoryLen int

	// WorkDir holds per-meeting track files and the mixed recording.
	WorkDir string

	// OutputExt selects the recording container. Default: "ogg".
	OutputExt string

	// FFmpegPath and OutputArgs configure the default mixer.
	FFmpegPath string
	OutputArgs []string

	// DiscardFailedTracks deletes track files when building the recording
	// fails. By default they are kept for inspection.
	DiscardFailedTracks bool

	// BotID is the speaker ID of the bot's own playback.
	BotID string
}

func (s *Settings) applyDefaults() {
	if !s.Capture.Format.Valid() {
		s.Capture.Format = audio.Format{SampleRate: 48000, Channels: 2}
	}
	s.MergeSilence = cmp.Or(s.MergeSilence, DefaultMergeSilence)
	s.CueInterval = cmp.Or(s.CueInterval, playback.DefaultCueInterval)
	s.WorkDir = cmp.Or(s.WorkDir, filepath.Join(os.TempDir(), "huddle"))
	s.OutputExt = cmp.Or(s.OutputExt, "ogg")
	s.BotID = cmp.Or(s.BotID, recording.BotTrackID)
}

// Config holds the dependencies of a [Manager].
type Config struct {
	// Platform connects to voice channels. Required.
	Platform audio.Platform

	// Transcriber is the speech-to-text provider. Required.
	Transcriber stt.Transcriber

	// Synthesizer renders replies and relayed messages. Optional; without
	// it only cues can be played.
	Synthesizer tts.Provider

	// LLM backs the gate's classifier and responder with the meeting's
	// transcript as context. Classifier and Responder override it.
	LLM        llm.Provider
	Classifier gate.Classifier
	Responder  gate.Responder

	// Store persists every finalized record. Optional.
	Store transcript.Store

	// Archive receives the recording and the transcript. Optional.
	Archive archive.Store

	// Mixer defaults to a [recording.Builder] on PATH's ffmpeg.
	Mixer Mixer

	Settings Settings

	// OnEnded is called after every teardown, including meetings ended by
	// voice command.
	OnEnded func(*Summary)

	Now     func() time.Time
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// StartRequest describes a meeting to start.
type StartRequest struct {
	GuildID   string
	ChannelID string

	// OwnerID is the participant who started the meeting. The owner may
	// always end it by voice.
	OwnerID string

	// Moderators authorizes other participants to end the meeting.
	// Optional.
	Moderators gate.Authorizer
}

// Manager starts and ends meetings. At most one meeting runs per guild. All
// exported methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	mixer  Mixer
	logger *slog.Logger

	mu       sync.Mutex
	meetings map[string]*Meeting
	byGuild  map[string]string
	closed   bool
	ending   sync.WaitGroup
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Platform == nil {
		errs = append(errs, errors.New("meeting: platform is required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("meeting: transcriber is required"))
	}
	if cfg.Classifier == nil && cfg.LLM == nil {
		errs = append(errs, errors.New("meeting: an LLM or a classifier is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Settings.applyDefaults()

	mixer := cfg.Mixer
	if mixer == nil {
		opts := []recording.BuilderOption{recording.WithBuilderLogger(cfg.Logger)}
		if cfg.Settings.FFmpegPath != "" {
			opts = append(opts, recording.WithFFmpegPath(cfg.Settings.FFmpegPath))
		}
		if len(cfg.Settings.OutputArgs) > 0 {
			opts = append(opts, recording.WithOutputArgs(cfg.Settings.OutputArgs...))
		}
		mixer = recording.NewBuilder(cfg.Settings.Capture.Format, opts...)
	}
	return &Manager{
		cfg:      cfg,
		mixer:    mixer,
		logger:   cfg.Logger,
		meetings: make(map[string]*Meeting),
		byGuild:  make(map[string]string),
	}, nil
}

// Start connects to the requested voice channel and starts a meeting. It
// returns [ErrAlreadyActive] when the guild already has one. ctx bounds the
// connection attempt only.
func (mg *Manager) Start(ctx context.Context, req StartRequest) (*Meeting, error) {
	if req.ChannelID == "" {
		return nil, errors.New("meeting: channel id is required")
	}

	mg.mu.Lock()
	if mg.closed {
		mg.mu.Unlock()
		return nil, ErrShutdown
	}
	if id, ok := mg.byGuild[req.GuildID]; ok {
		mg.mu.Unlock()
		if id == "" {
			return nil, fmt.Errorf("%w (starting)", ErrAlreadyActive)
		}
		return nil, fmt.Errorf("%w (id=%s)", ErrAlreadyActive, id)
	}
	// Reserve the guild while connecting.
	mg.byGuild[req.GuildID] = ""
	mg.mu.Unlock()

	id := uuid.NewString()
	sctx, span := observe.StartSpan(observe.WithMeeting(ctx, id), "meeting.start",
		trace.WithAttributes(
			attribute.String("guild_id", req.GuildID),
			attribute.String("channel_id", req.ChannelID),
		))
	m, err := mg.build(sctx, id, req)
	observe.EndSpan(span, err)

	mg.mu.Lock()
	defer mg.mu.Unlock()
	if err != nil {
		delete(mg.byGuild, req.GuildID)
		return nil, err
	}
	mg.meetings[m.ID] = m
	mg.byGuild[req.GuildID] = m.ID
	mg.cfg.Metrics.AddActiveMeetings(ctx, 1)

	m.logger.Info("meeting started",
		"guild_id", req.GuildID,
		"channel_id", req.ChannelID,
		"owner_id", req.OwnerID,
	)
	return m, nil
}

// UpdateSettings replaces the settings of meetings started from now on.
// Running meetings keep theirs. The mixer is fixed at construction, so
// FFmpegPath and OutputArgs are not updated.
func (mg *Manager) UpdateSettings(s Settings) {
	s.applyDefaults()
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.cfg.Settings = s
}

func (mg *Manager) settings() Settings {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.cfg.Settings
}

// build connects and wires the meeting's components.
func (mg *Manager) build(ctx context.Context, id string, req StartRequest) (*Meeting, error) {
	s := mg.settings()
	logger := mg.logger.With("meeting_id", id)

	conn, err := mg.cfg.Platform.Connect(ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("meeting: connect to voice channel: %w", err)
	}

	m := &Meeting{
		ID:        id,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		OwnerID:   req.OwnerID,
		StartedAt: mg.cfg.Now(),
		settings:  s,
		conn:      conn,
		metrics:   mg.cfg.Metrics,
		logger:    logger,
		streams:   make(map[string]<-chan audio.AudioFrame),
		names:     make(map[string]string),
	}
	fail := func(err error) (*Meeting, error) {
		if m.queue != nil {
			m.queue.Close()
		}
		if m.tracks != nil {
			_, _ = m.tracks.Close()
			_ = os.RemoveAll(filepath.Join(s.WorkDir, id))
		}
		if derr := conn.Disconnect(); derr != nil {
			logger.Warn("disconnect after failed start", "err", derr)
		}
		return nil, err
	}

	m.log = transcript.NewLog(logger)
	m.seq = transcript.NewSequencer(m.log.Append)

	capCfg := s.Capture
	capCfg.Now = m.Elapsed
	capCfg.OnClosed = m.onSnippet
	capCfg.OnDrop = func(string) { mg.cfg.Metrics.RecordCaptureDrop(context.Background()) }
	capCfg.Resubscribe = m.resubscribe
	capCfg.Logger = logger
	m.capture = capture.New(capCfg)

	m.tracks, err = recording.NewTrackSet(filepath.Join(s.WorkDir, id), m.capture.Format(), logger)
	if err != nil {
		return fail(fmt.Errorf("meeting: tracks: %w", err))
	}

	tc := s.Transcription
	tc.Transcriber = mg.cfg.Transcriber
	tc.Metrics = mg.cfg.Metrics
	tc.Logger = logger
	m.pipeline, err = transcribe.New(tc)
	if err != nil {
		return fail(fmt.Errorf("meeting: %w", err))
	}

	m.queue = playback.New(conn.Sink(), mg.cfg.Synthesizer,
		playback.WithCapacity(s.QueueCapacity),
		playback.WithVoice(s.Voice),
		playback.WithTee(playback.Recorder{Tracks: m.tracks, Log: m.log, BotID: s.BotID}),
		playback.WithClock(m.Elapsed),
		playback.WithMetrics(mg.cfg.Metrics, id),
		playback.WithLogger(logger),
	)

	var thinking gate.Cue
	if s.ThinkingCue != "" {
		m.thinking = playback.NewCueLoop(m.queue, s.ThinkingCue, s.CueInterval)
		thinking = m.thinking
	}

	classifier, responder := mg.deciders(m)
	m.gate, err = gate.New(gate.Config{
		Names:         s.Names,
		Classifier:    classifier,
		Responder:     responder,
		Authorizer:    gate.OwnerOr(req.OwnerID, req.Moderators),
		Speaker:       m.queue,
		Thinking:      thinking,
		OnEnd:         func(_ context.Context, speakerID string) { mg.endAsync(id, "ended by voice command from "+speakerID) },
		ConfirmTTL:    s.ConfirmTTL,
		ConfirmPrompt: s.ConfirmPrompt,
		DeniedCue:     s.DeniedCue,
		DeniedText:    s.DeniedText,
		Now:           mg.cfg.Now,
		Metrics:       mg.cfg.Metrics,
		Logger:        logger,
	})
	if err != nil {
		return fail(fmt.Errorf("meeting: %w", err))
	}

	// The meeting outlives the request that started it.
	base := observe.WithMeeting(context.Background(), id)
	m.attachCtx, m.stopAttach = context.WithCancel(base)
	m.gateCtx, m.stopGate = context.WithCancel(base)

	// Subscriptions end when the log is closed at teardown.
	gateCh, unsubGate := m.log.Subscribe()
	m.bg.Go(func() {
		defer unsubGate()
		m.gate.Run(m.gateCtx, gateCh)
	})

	if store := mg.cfg.Store; store != nil {
		ch, unsubStore := m.log.Subscribe()
		m.bg.Go(func() {
			defer unsubStore()
			transcript.Persist(context.Background(), store, id, ch, logger)
		})
	}

	conn.OnParticipantChange(m.onParticipant)
	for speakerID, ch := range conn.InputStreams() {
		m.attach(speakerID, ch)
	}
	return m, nil
}

// deciders returns the gate's classifier and responder, backing missing ones
// with the LLM and the meeting's own transcript.
func (mg *Manager) deciders(m *Meeting) (gate.Classifier, gate.Responder) {
	classifier, responder := mg.cfg.Classifier, mg.cfg.Responder
	if mg.cfg.LLM == nil {
		return classifier, responder
	}
	s := m.settings
	opts := []gate.LLMOption{gate.WithHistory(gate.LogHistory{Log: m.log}, s.HistoryLen)}
	if len(s.Names) > 0 {
		opts = append(opts, gate.WithAssistantName(s.Names[0]))
	}
	if classifier == nil {
		classifier = gate.NewLLMClassifier(mg.cfg.LLM, opts...)
	}
	if responder == nil {
		responder = gate.NewLLMResponder(mg.cfg.LLM, opts...)
	}
	return classifier, responder
}

// Get returns the running meeting with the given ID.
func (mg *Manager) Get(id string) (*Meeting, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	m, ok := mg.meetings[id]
	return m, ok
}

// ByGuild returns the running meeting of a guild.
func (mg *Manager) ByGuild(guildID string) (*Meeting, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	m, ok := mg.meetings[mg.byGuild[guildID]]
	return m, ok
}

// Active returns every running meeting, oldest first.
func (mg *Manager) Active() []*Meeting {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	out := slices.Collect(maps.Values(mg.meetings))
	slices.SortFunc(out, func(a, b *Meeting) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// End tears the meeting down and returns its summary. The summary is
// returned even when parts of the teardown failed; the error then joins
// every failure. Ending an unknown meeting returns [ErrNotFound].
func (mg *Manager) End(ctx context.Context, id, reason string) (*Summary, error) {
	mg.mu.Lock()
	m, ok := mg.meetings[id]
	if !ok {
		mg.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(mg.meetings, id)
	mg.mu.Unlock()

	ctx, span := observe.StartSpan(observe.WithMeeting(ctx, id), "meeting.end",
		trace.WithAttributes(attribute.String("reason", reason)))
	sum, err := mg.teardown(ctx, m, reason)
	observe.EndSpan(span, err)

	// The guild stays reserved until the voice connection is gone.
	mg.mu.Lock()
	if mg.byGuild[m.GuildID] == id {
		delete(mg.byGuild, m.GuildID)
	}
	mg.mu.Unlock()
	mg.cfg.Metrics.AddActiveMeetings(ctx, -1)

	if err != nil {
		m.logger.Warn("meeting ended with errors", "reason", reason, "err", err)
	} else {
		m.logger.Info("meeting ended", "reason", reason, "records", len(sum.Records))
	}
	if mg.cfg.OnEnded != nil {
		mg.cfg.OnEnded(sum)
	}
	return sum, err
}

// endAsync ends a meeting from inside one of its own goroutines.
func (mg *Manager) endAsync(id, reason string) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mg.closed {
		return
	}
	mg.ending.Go(func() {
		if _, err := mg.End(context.Background(), id, reason); err != nil && !errors.Is(err, ErrNotFound) {
			mg.logger.Warn("end meeting", "meeting_id", id, "err", err)
		}
	})
}

// Shutdown ends every running meeting and rejects new ones.
func (mg *Manager) Shutdown(ctx context.Context) error {
	mg.mu.Lock()
	mg.closed = true
	ids := slices.Collect(maps.Keys(mg.meetings))
	mg.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := mg.End(ctx, id, "shutdown"); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	mg.ending.Wait()
	return errors.Join(errs...)
}

// teardown stops the meeting's components in dependency order: timers,
// playback, capture, in-flight transcriptions, consumers, tracks, then the
// recording is built and archived and the voice connection closed.
func (mg *Manager) teardown(ctx context.Context, m *Meeting, reason string) (*Summary, error) {
	s := m.settings
	log := m.logger
	log.Info("ending meeting", "reason", reason)

	m.mu.Lock()
	m.ending = true
	speakers := len(m.streams)
	m.streams = make(map[string]<-chan audio.AudioFrame)
	m.mu.Unlock()
	mg.cfg.Metrics.AddActiveSpeakers(ctx, -int64(speakers))
	m.conn.OnParticipantChange(func(audio.Event) {})

	if m.thinking != nil {
		m.thinking.Close()
	}
	m.stopGate()
	m.queue.Close()

	m.capture.Close()
	m.stopAttach()
	m.capture.Wait()

	m.pipeline.Wait()
	m.seq.Flush()
	m.log.Close()
	m.bg.Wait()
	m.gate.Wait()

	var errs []error
	files, err := m.tracks.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("meeting: %w", err))
	}

	sum := &Summary{
		MeetingID: m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		OwnerID:   m.OwnerID,
		Reason:    reason,
		StartedAt: m.StartedAt,
		EndedAt:   mg.cfg.Now(),
		Records:   m.log.Timeline(),
		Segments: capture.MergeSnippetsAcrossSpeakers(m.snippetHeaders(),
			s.MergeSilence.Milliseconds(),
			cmp.Or(s.Capture.MaxSnippet, capture.DefaultMaxSnippet).Milliseconds()),
		DroppedChunks: m.capture.Dropped(),
	}

	out := filepath.Join(s.WorkDir, m.ID, "recording."+s.OutputExt)
	res, err := mg.mixer.Build(ctx, files, out)
	switch {
	case errors.Is(err, recording.ErrNoAudio):
		log.Info("no audio recorded, skipping mixed recording")
	case err != nil:
		errs = append(errs, fmt.Errorf("meeting: build recording: %w", err))
		if s.DiscardFailedTracks {
			for _, f := range files {
				_ = os.Remove(f.Path)
			}
		}
	default:
		sum.RecordingPath = res.Path
		sum.RecordingMs = res.DurationMs
	}

	if mg.cfg.Archive != nil {
		if err := mg.archive(ctx, sum); err != nil {
			errs = append(errs, err)
		}
	}

	// Succeeds only once every track and the recording are gone.
	_ = os.Remove(filepath.Join(s.WorkDir, m.ID))

	if err := m.conn.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("meeting: disconnect: %w", err))
	}
	return sum, errors.Join(errs...)
}
