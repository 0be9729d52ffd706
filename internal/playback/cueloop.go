package playback

import (
	"sync"
	"time"
)

// DefaultCueInterval is the spacing between repeated cues.
const DefaultCueInterval = 2500 * time.Millisecond

// CuePlayer plays a cue unless something else is playing. [*Queue]
// implements it.
type CuePlayer interface {
	PlayCueIfIdle(path string) bool
}

// CueLoop repeats a cue while at least one caller holds it. A meeting owns
// one CueLoop; callers that overlap share a single ticker, which stops when
// the last of them releases it.
type CueLoop struct {
	player   CuePlayer
	cue      string
	interval time.Duration

	mu   sync.Mutex
	refs int
	gen  uint64 // bumped by Close to orphan outstanding stop functions
	quit chan struct{}
	done chan struct{}
}

// NewCueLoop creates a loop playing cue through player every interval. A
// non-positive interval uses [DefaultCueInterval].
func NewCueLoop(player CuePlayer, cue string, interval time.Duration) *CueLoop {
	if interval <= 0 {
		interval = DefaultCueInterval
	}
	return &CueLoop{player: player, cue: cue, interval: interval}
}

// Start takes a reference on the loop, starting the ticker if this is the
// first one. The cue plays right away and then on every tick. The returned
// stop function releases the reference and may be called more than once.
func (l *CueLoop) Start() (stop func()) {
	l.mu.Lock()
	l.refs++
	if l.refs == 1 {
		l.quit = make(chan struct{})
		l.done = make(chan struct{})
		go l.run(l.quit, l.done)
	}
	gen := l.gen
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.release(gen) })
	}
}

func (l *CueLoop) release(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.refs == 0 {
		return
	}
	l.refs--
	if l.refs == 0 {
		close(l.quit)
	}
}

// Active reports whether any caller holds the loop.
func (l *CueLoop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs > 0
}

// Close stops the ticker regardless of outstanding references and waits for
// it to exit. Stop functions handed out earlier become no-ops.
func (l *CueLoop) Close() {
	l.mu.Lock()
	done := l.done
	l.gen++
	if l.refs > 0 {
		l.refs = 0
		close(l.quit)
	}
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *CueLoop) run(quit, done chan struct{}) {
	defer close(done)
	if l.cue == "" {
		<-quit
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.player.PlayCueIfIdle(l.cue)
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			l.player.PlayCueIfIdle(l.cue)
		}
	}
}
