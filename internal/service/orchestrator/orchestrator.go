// Package orchestrator turns conversation events into speech and sound cues.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	chatmodel "github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/effects"
)

// Speaker is the speech side of playback.Player.
type Speaker interface {
	Request(ctx context.Context, text string, voice persona.Voice)
	Stop()
}

// Cues is the effects side of effects.Player.
type Cues interface {
	Play(key string, volume *float64) error
	StartTyping(p persona.Persona, d time.Duration) error
	StopTyping()
	Notify(p persona.Persona) error
	MessageSent() error
}

// Subscriber is implemented by event.Bus.
type Subscriber interface {
	Subscribe(handler event.Handler, types ...event.Type) func()
}

// Options tune an Orchestrator.
type Options struct {
	// TypingDuration bounds the typing loop. Zero means effects.DefaultTypingDuration.
	TypingDuration time.Duration
	Logger         *zap.Logger
}

// Orchestrator speaks assistant replies and plays the matching cues.
type Orchestrator struct {
	ctx     context.Context
	speaker Speaker
	cues    Cues
	typing  time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// New creates an Orchestrator. ctx scopes speech requests.
func New(ctx context.Context, speaker Speaker, cues Cues, opts Options) *Orchestrator {
	if opts.TypingDuration <= 0 {
		opts.TypingDuration = effects.DefaultTypingDuration
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		ctx:     ctx,
		speaker: speaker,
		cues:    cues,
		typing:  opts.TypingDuration,
		logger:  opts.Logger.Named("orchestrator"),
	}
}

// Attach subscribes to conversation events on sub, replacing a previous subscription.
func (o *Orchestrator) Attach(sub Subscriber) {
	unsubscribe := sub.Subscribe(o.Handle,
		event.TypeMessageAppended,
		event.TypeTypingChanged,
		event.TypeMessagesReset,
		event.TypePersonaChanged,
	)

	o.mu.Lock()
	prev := o.unsubscribe
	o.unsubscribe = unsubscribe
	o.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Detach drops the subscription.
func (o *Orchestrator) Detach() {
	o.mu.Lock()
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Handle reacts to one event.
func (o *Orchestrator) Handle(ev event.Event) {
	switch ev.Type {
	case event.TypeMessageAppended:
		msg, ok := ev.Data["message"].(chatmodel.Message)
		if !ok {
			return
		}
		p, _ := ev.Data["persona"].(persona.Persona)
		o.onMessage(msg, p)

	case event.TypeTypingChanged:
		typing, _ := ev.Data["typing"].(bool)
		if !typing {
			o.cues.StopTyping()
			return
		}
		p, _ := ev.Data["persona"].(persona.Persona)
		o.warn("typing cue", o.cues.StartTyping(p, o.typing))

	case event.TypeMessagesReset:
		o.cues.StopTyping()
		if reason, _ := ev.Data["reason"].(string); reason == "reset" {
			o.warn("reset cue", o.cues.Play(effects.KeyNotification, nil))
		}

	case event.TypePersonaChanged:
		o.speaker.Stop()
		o.cues.StopTyping()
	}
}

func (o *Orchestrator) onMessage(msg chatmodel.Message, p persona.Persona) {
	if msg.Sender == chatmodel.SenderUser {
		o.warn("message sent cue", o.cues.MessageSent())
		return
	}

	if !msg.Error {
		o.warn("notification cue", o.cues.Notify(p))
	}
	if msg.Speakable() {
		o.speaker.Request(o.ctx, *msg.SpeechText, p.Voice)
	}
}

func (o *Orchestrator) warn(what string, err error) {
	if err != nil {
		o.logger.Debug(what+" skipped", zap.Error(err))
	}
}
