// Package effects plays short UI sound cues on a channel independent of speech.
package effects

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

const (
	DefaultVolume         = 0.6
	DefaultMasterVolume   = 0.8
	DefaultTypingDuration = 2 * time.Second

	typingGain       = 0.7
	messageSentLevel = 0.4
)

// ErrUnknownSound 表示请求的音效未注册。
var ErrUnknownSound = errors.New("sound not registered")

var typingSuffixes = map[string]string{
	"gandalf":   "mystical",
	"sherlock":  "classic",
	"robot":     "robotic",
	"knight":    "medieval",
	"alien":     "cosmic",
	"sorceress": "magical",
}

var notificationKeys = map[string]string{
	"gandalf":   "bell-magical",
	"sherlock":  "bell-victorian",
	"robot":     "beep-digital",
	"knight":    "bell-castle",
	"alien":     "beep-alien",
	"sorceress": "chime-ethereal",
}

// TypingKey returns the typing cue of a persona: its own override if set,
// else the built-in one for its id. Unknown personas get the robotic one.
func TypingKey(p persona.Persona) string {
	if p.SoundEffects.Typing != "" {
		return p.SoundEffects.Typing
	}
	return builtinTypingKey(p.ID)
}

// NotificationKey returns the notification cue of a persona, preferring its override.
func NotificationKey(p persona.Persona) string {
	if p.SoundEffects.Notification != "" {
		return p.SoundEffects.Notification
	}
	return builtinNotificationKey(p.ID)
}

func builtinTypingKey(personaID string) string {
	suffix, ok := typingSuffixes[personaID]
	if !ok {
		suffix = "robotic"
	}
	return KeyTypewriter + "-" + suffix
}

func builtinNotificationKey(personaID string) string {
	if key, ok := notificationKeys[personaID]; ok {
		return key
	}
	return KeyNotification
}

// resolve returns the first of keys that has a registered clip.
func (p *Player) resolve(keys ...string) (string, *audio.Clip, bool) {
	for _, key := range keys {
		if clip, ok := p.reg.Clip(key); ok {
			return key, clip, true
		}
	}
	return "", nil, false
}

// Options tune a Player.
type Options struct {
	// Volume and Master are initial levels. Nil means the package defaults.
	Volume  *float64
	Master  *float64
	Events  event.Publisher
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Player starts an independent playback for every cue. At most one looping
// typing cue exists at a time.
type Player struct {
	reg     *Registry
	out     audio.Output
	events  event.Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	enabled     bool
	volume      float64
	master      float64
	typing      audio.Playback
	typingTimer *time.Timer
	closed      bool
}

// NewPlayer creates an enabled player over reg.
func NewPlayer(reg *Registry, out audio.Output, opts Options) *Player {
	if reg == nil {
		reg = NewRegistry()
	}
	volume, master := DefaultVolume, DefaultMasterVolume
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	if opts.Master != nil {
		master = *opts.Master
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Player{
		reg:     reg,
		out:     out,
		events:  opts.Events,
		logger:  opts.Logger.Named("effects"),
		metrics: opts.Metrics,
		enabled: true,
		volume:  audio.Clamp(volume),
		master:  audio.Clamp(master),
	}
}

// Play starts key once at (volume or the effects level) times master.
// It is a no-op while disabled.
func (p *Player) Play(key string, volume *float64) error {
	p.mu.Lock()
	if !p.enabled || p.closed {
		p.mu.Unlock()
		return nil
	}
	level := p.volume
	if volume != nil {
		level = audio.Clamp(*volume)
	}
	level *= p.master
	p.mu.Unlock()

	clip, ok := p.reg.Clip(key)
	if !ok {
		p.logger.Warn("sound not found", zap.String("key", key))
		return fmt.Errorf("%w: %s", ErrUnknownSound, key)
	}
	if _, err := p.out.Start(clip, audio.Options{Volume: level}); err != nil {
		p.logger.Warn("sound failed to play", zap.String("key", key), zap.Error(err))
		return err
	}
	p.played(key, level, false)
	return nil
}

// StartTyping loops the persona's typing cue for d, replacing any running
// loop. A non-positive d means DefaultTypingDuration.
func (p *Player) StartTyping(who persona.Persona, d time.Duration) error {
	if d <= 0 {
		d = DefaultTypingDuration
	}

	key, clip, ok := p.resolve(TypingKey(who), builtinTypingKey(who.ID), KeyTypewriter)

	p.mu.Lock()
	if !p.enabled || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.stopTypingLocked()
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("typing sound not found", zap.String("persona", who.ID))
		return fmt.Errorf("%w: %s", ErrUnknownSound, TypingKey(who))
	}

	level := p.volume * typingGain * p.master
	pb, err := p.out.Start(clip, audio.Options{Volume: level, Loop: true})
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("typing sound failed to play", zap.String("key", key), zap.Error(err))
		return err
	}
	p.typing = pb
	p.typingTimer = time.AfterFunc(d, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.typing == pb {
			p.stopTypingLocked()
		}
	})
	p.mu.Unlock()

	p.played(key, level, true)
	return nil
}

// StopTyping stops the running typing loop, if any.
func (p *Player) StopTyping() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTypingLocked()
}

func (p *Player) stopTypingLocked() {
	if p.typingTimer != nil {
		p.typingTimer.Stop()
		p.typingTimer = nil
	}
	if p.typing != nil {
		p.typing.Stop()
		p.typing = nil
	}
}

// Typing reports whether a typing loop is running.
func (p *Player) Typing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing != nil
}

// Notify plays the persona's notification cue. An override without a
// registered clip falls back to the built-in cue.
func (p *Player) Notify(who persona.Persona) error {
	key, _, ok := p.resolve(NotificationKey(who), builtinNotificationKey(who.ID))
	if !ok {
		key = NotificationKey(who)
	}
	return p.Play(key, nil)
}

// MessageSent plays the send confirmation cue.
func (p *Player) MessageSent() error {
	level := messageSentLevel
	return p.Play(KeyMessageSent, &level)
}

// SetEnabled gates cues. Disabling stops the typing loop.
func (p *Player) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	if !enabled {
		p.stopTypingLocked()
	}
}

// Enabled reports whether cues are enabled.
func (p *Player) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetVolume sets the effects level, clamped to [0,1].
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = audio.Clamp(v)
	p.retuneTypingLocked()
}

// SetMasterVolume sets the master level, clamped to [0,1].
func (p *Player) SetMasterVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.master = audio.Clamp(v)
	p.retuneTypingLocked()
}

func (p *Player) retuneTypingLocked() {
	if p.typing != nil {
		p.typing.SetVolume(p.volume * typingGain * p.master)
	}
}

// Volumes returns the effects and master levels.
func (p *Player) Volumes() (effects, master float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume, p.master
}

// Registry returns the clip registry.
func (p *Player) Registry() *Registry {
	return p.reg
}

// Close stops the typing loop and frees every clip.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	p.stopTypingLocked()
	p.mu.Unlock()
	p.reg.Clear()
}

func (p *Player) played(key string, level float64, loop bool) {
	p.metrics.EffectPlayed(key)
	p.events.Publish(event.New(event.TypeEffectPlayed, map[string]any{"key": key, "volume": level, "loop": loop}))
}
