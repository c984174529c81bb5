// Package playback plays synthesized speech, one session at a time.
package playback

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/speech"
)

// State 表示播放器的当前状态。
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StatePlaying    State = "playing"
)

const (
	DefaultVolume    = 0.8
	DefaultWarnRatio = 0.8
)

// Synthesizer is the part of speech.Synthesizer the player needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice persona.Voice) (*speech.Session, error)
	ReleaseAll()
}

// UsageSource reports subscription usage.
type UsageSource interface {
	Usage(ctx context.Context) (speech.Usage, error)
}

// Usage 记录已朗读字符数与额度。
type Usage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Ratio returns Used/Limit, or 0 without a limit.
func (u Usage) Ratio() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Limit)
}

// Options tune a Player.
type Options struct {
	// Volume is the initial volume. Nil means DefaultVolume.
	Volume *float64
	// Limit is the initial character limit. Zero means speech.DefaultCharacterLimit.
	Limit int
	// WarnRatio is the usage ratio at which NearLimit reports true.
	WarnRatio float64
	Usage     UsageSource
	Events    event.Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Player owns at most one active speech session. Each Request bumps a token;
// a synthesis that completes under a stale token is released unplayed.
// State and usage events are queued under mu, so subscribers see them in
// transition order.
type Player struct {
	synth     Synthesizer
	out       audio.Output
	usageSrc  UsageSource
	warnRatio float64
	events    *event.Queue
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	state    State
	token    uint64
	enabled  bool
	volume   float64
	usage    Usage
	cancel   context.CancelFunc
	session  *speech.Session
	playback audio.Playback
	closed   bool
}

// NewPlayer creates an enabled, idle player.
func NewPlayer(synth Synthesizer, out audio.Output, opts Options) *Player {
	volume := DefaultVolume
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	if opts.Limit <= 0 {
		opts.Limit = speech.DefaultCharacterLimit
	}
	if opts.WarnRatio <= 0 || opts.WarnRatio > 1 {
		opts.WarnRatio = DefaultWarnRatio
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Player{
		synth:     synth,
		out:       out,
		usageSrc:  opts.Usage,
		warnRatio: opts.WarnRatio,
		events:    event.NewQueue(opts.Events),
		logger:    opts.Logger.Named("playback"),
		metrics:   opts.Metrics,
		state:     StateIdle,
		enabled:   true,
		volume:    audio.Clamp(volume),
		usage:     Usage{Limit: opts.Limit},
	}
}

// Request speaks text in voice, replacing whatever is active. It returns once
// synthesis has started; playback proceeds in the background. Requests while
// disabled or with blank text are ignored.
func (p *Player) Request(ctx context.Context, text string, voice persona.Voice) {
	text = strings.TrimSpace(text)

	p.mu.Lock()
	if !p.enabled || p.closed || text == "" {
		p.mu.Unlock()
		return
	}
	p.stopLocked()
	p.token++
	token := p.token
	synthCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.setStateLocked(StateGenerating)
	p.mu.Unlock()

	p.events.Flush()
	go p.synthesize(synthCtx, cancel, token, text, voice)
}

func (p *Player) synthesize(ctx context.Context, cancel context.CancelFunc, token uint64, text string, voice persona.Voice) {
	defer cancel()

	sess, err := p.synth.Synthesize(ctx, text, voice)

	p.mu.Lock()
	if token != p.token {
		p.mu.Unlock()
		sess.Release()
		p.metrics.PlaybackEnded("superseded")
		p.logger.Debug("discarded stale speech", zap.Uint64("token", token))
		return
	}
	p.cancel = nil
	if err != nil {
		p.setStateLocked(StateIdle)
		p.mu.Unlock()
		p.events.Flush()
		p.metrics.PlaybackEnded("failed")
		p.logger.Warn("speech synthesis failed", zap.Error(err))
		return
	}

	pb, err := p.out.Start(sess.Clip, audio.Options{Volume: p.volume})
	if err != nil {
		p.setStateLocked(StateIdle)
		p.mu.Unlock()
		p.events.Flush()
		sess.Release()
		p.metrics.PlaybackEnded("failed")
		p.logger.Warn("speech playback failed to start", zap.Error(err))
		return
	}
	p.session = sess
	p.playback = pb
	p.setStateLocked(StatePlaying)
	p.usage.Used += len([]rune(text))
	p.queueUsageLocked()
	p.mu.Unlock()

	p.events.Flush()
	go p.watch(token, pb)
}

// watch returns the player to idle when pb ends on its own.
func (p *Player) watch(token uint64, pb audio.Playback) {
	<-pb.Done()

	p.mu.Lock()
	if token != p.token || p.playback != pb {
		p.mu.Unlock()
		return
	}
	sess := p.session
	p.session = nil
	p.playback = nil
	p.setStateLocked(StateIdle)
	p.mu.Unlock()

	p.events.Flush()
	sess.Release()
	if err := pb.Err(); err != nil {
		p.logger.Warn("speech playback error", zap.Error(err))
		p.metrics.PlaybackEnded("error")
	} else {
		p.metrics.PlaybackEnded("completed")
	}
}

// Stop halts any active or pending speech. It is safe in every state.
func (p *Player) Stop() {
	p.mu.Lock()
	wasIdle := p.state == StateIdle
	p.token++
	p.stopLocked()
	if !wasIdle {
		p.setStateLocked(StateIdle)
	}
	p.mu.Unlock()

	p.events.Flush()
}

// stopLocked cancels pending synthesis and releases the active session.
func (p *Player) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.playback != nil {
		p.playback.Stop()
		p.playback = nil
		p.metrics.PlaybackEnded("stopped")
	}
	if p.session != nil {
		p.session.Release()
		p.session = nil
	}
	p.state = StateIdle
}

// SetVolume clamps v to [0,1] and applies it to the live playback.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = audio.Clamp(v)
	if p.playback != nil {
		p.playback.SetVolume(p.volume)
	}
	p.mu.Unlock()
}

// Volume returns the current volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEnabled toggles speech. Disabling stops active speech.
func (p *Player) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
	if !enabled {
		p.Stop()
	}
}

// Enabled reports whether speech is enabled.
func (p *Player) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Usage returns the local usage counter.
func (p *Player) Usage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

// NearLimit reports whether usage reached the warning ratio.
func (p *Player) NearLimit() bool {
	return p.Usage().Ratio() >= p.warnRatio
}

// SyncUsage refreshes usage from the subscription endpoint. On failure the
// local counter is kept and the error returned.
func (p *Player) SyncUsage(ctx context.Context) (Usage, error) {
	if p.usageSrc == nil {
		return p.Usage(), nil
	}
	remote, err := p.usageSrc.Usage(ctx)
	if err != nil {
		p.logger.Warn("speech usage refresh failed", zap.Error(err))
		return p.Usage(), err
	}

	p.mu.Lock()
	p.usage = Usage{Used: remote.Used, Limit: remote.Limit}
	if p.usage.Limit <= 0 {
		p.usage.Limit = speech.DefaultCharacterLimit
	}
	usage := p.usage
	p.queueUsageLocked()
	p.mu.Unlock()

	p.events.Flush()
	return usage, nil
}

// Close stops speech and empties the synthesizer cache. Later requests are ignored.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Stop()
	p.synth.ReleaseAll()
}

// setStateLocked moves to s and queues the matching event. Callers flush
// p.events after unlocking.
func (p *Player) setStateLocked(s State) {
	p.state = s
	p.events.Enqueue(event.New(event.TypeSpeechState, map[string]any{"state": string(s)}))
}

func (p *Player) queueUsageLocked() {
	u := p.usage
	p.events.Enqueue(event.New(event.TypeSpeechUsage, map[string]any{
		"used":      u.Used,
		"limit":     u.Limit,
		"nearLimit": u.Ratio() >= p.warnRatio,
	}))
}
