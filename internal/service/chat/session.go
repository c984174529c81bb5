// Package chat holds the single active roleplay conversation.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/analysis/emotion"
	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	chatmodel "github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/ai"
)

// Generator produces one reply for a turn.
type Generator interface {
	Generate(ctx context.Context, utterance string, p persona.Persona, history []chatmodel.Message) (ai.Reply, error)
}

// Options tune a Session.
type Options struct {
	Events event.Publisher
	Logger *zap.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Session is the active conversation: persona, message log, current emotion,
// typing flag and the last error. Submits run one at a time. Events are
// queued under mu with the change they describe, so subscribers observe
// changes in the order they were applied to the log.
type Session struct {
	gen    Generator
	events *event.Queue
	logger *zap.Logger
	now    func() time.Time

	turn sync.Mutex

	mu       sync.RWMutex
	persona  *persona.Persona
	messages []chatmodel.Message
	emotion  emotion.Label
	typing   bool
	lastErr  error
	epoch    uint64
}

// NewSession creates an empty session with no persona.
func NewSession(gen Generator, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Session{
		gen:     gen,
		events:  event.NewQueue(opts.Events),
		logger:  opts.Logger.Named("chat"),
		now:     opts.Now,
		emotion: emotion.Neutral,
	}
}

// Submit runs one turn. Validation failures return *ValidationError before
// anything changes. Generation failures are recorded as an in-character
// fallback message and the error slot; they are never returned.
func (s *Session) Submit(ctx context.Context, utterance string) (chatmodel.Message, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return chatmodel.Message{}, &ValidationError{Err: ErrEmptyUtterance}
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	if s.persona == nil {
		s.mu.Unlock()
		return chatmodel.Message{}, &ValidationError{Err: ErrNoPersona}
	}
	p := *s.persona
	epoch := s.epoch
	history := append([]chatmodel.Message(nil), s.messages...)
	userMsg := chatmodel.Message{
		ID:        uuid.NewString(),
		Sender:    chatmodel.SenderUser,
		Text:      utterance,
		CreatedAt: s.now(),
	}
	s.messages = append(s.messages, userMsg)
	s.typing = true
	s.queueLocked(event.TypeMessageAppended, map[string]any{"message": userMsg, "persona": p})
	s.queueLocked(event.TypeTypingChanged, map[string]any{"typing": true, "persona": p})
	s.mu.Unlock()
	s.events.Flush()

	reply, err := s.gen.Generate(ctx, utterance, p, history)
	failed := err != nil
	if failed {
		s.logger.Warn("turn fell back", zap.String("persona", p.ID), zap.Error(err))
		reply = ai.Fallback(p)
	}
	if !reply.Emotion.Valid() {
		reply.Emotion = emotion.Neutral
	}

	assistantMsg := chatmodel.Message{
		ID:         uuid.NewString(),
		Sender:     chatmodel.SenderAssistant,
		Text:       reply.Text,
		CreatedAt:  s.now(),
		Emotion:    string(reply.Emotion),
		SpeechText: reply.SpeechText,
		Error:      failed,
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarded reply after reset", zap.String("persona", p.ID))
		return chatmodel.Message{}, ErrTurnDiscarded
	}
	s.messages = append(s.messages, assistantMsg)
	s.emotion = reply.Emotion
	hadErr := s.lastErr != nil
	if failed {
		s.lastErr = err
	} else {
		s.lastErr = nil
	}
	s.typing = false
	s.queueLocked(event.TypeMessageAppended, map[string]any{"message": assistantMsg, "persona": p})
	s.queueLocked(event.TypeEmotionChanged, map[string]any{"emotion": string(reply.Emotion)})
	switch {
	case failed:
		s.queueLocked(event.TypeErrorSet, map[string]any{"error": err.Error()})
	case hadErr:
		s.queueLocked(event.TypeErrorCleared, nil)
	}
	s.queueLocked(event.TypeTypingChanged, map[string]any{"typing": false, "persona": p})
	s.mu.Unlock()

	s.events.Flush()
	return assistantMsg, nil
}

// Reset clears the log and error slot and sets the emotion to neutral.
// A turn in flight is discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.queueLocked(event.TypeMessagesReset, map[string]any{"reason": "reset"})
	s.queueLocked(event.TypeEmotionChanged, map[string]any{"emotion": string(emotion.Neutral)})
	s.queueLocked(event.TypeTypingChanged, map[string]any{"typing": false})
	s.mu.Unlock()
	s.events.Flush()
}

func (s *Session) resetLocked() {
	s.messages = nil
	s.lastErr = nil
	s.typing = false
	s.emotion = emotion.Neutral
	s.epoch++
}

// SwitchPersona resets the conversation and makes p active.
func (s *Session) SwitchPersona(p persona.Persona) {
	s.mu.Lock()
	s.resetLocked()
	s.persona = &p
	s.queueLocked(event.TypeMessagesReset, map[string]any{"reason": "persona"})
	s.queueLocked(event.TypeEmotionChanged, map[string]any{"emotion": string(emotion.Neutral)})
	s.queueLocked(event.TypePersonaChanged, map[string]any{"persona": p})
	s.mu.Unlock()

	s.logger.Info("persona switched", zap.String("persona", p.ID))
	s.events.Flush()
}

// Messages returns a copy of the log.
func (s *Session) Messages() []chatmodel.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chatmodel.Message(nil), s.messages...)
}

// Persona returns the active persona.
func (s *Session) Persona() (persona.Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.persona == nil {
		return persona.Persona{}, false
	}
	return *s.persona, true
}

// Emotion returns the current emotion.
func (s *Session) Emotion() emotion.Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emotion
}

// Typing reports whether a reply is being generated.
func (s *Session) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

// Err returns the error of the last failed turn, if it was not cleared.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// DismissError clears the error slot.
func (s *Session) DismissError() {
	s.mu.Lock()
	if s.lastErr != nil {
		s.lastErr = nil
		s.queueLocked(event.TypeErrorCleared, nil)
	}
	s.mu.Unlock()
	s.events.Flush()
}

// Stats summarizes the log.
func (s *Session) Stats() chatmodel.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chatmodel.Summarize(s.messages, string(s.emotion))
}

// EmotionHistory lists assistant emotions in log order.
func (s *Session) EmotionHistory() []chatmodel.EmotionPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := make([]chatmodel.EmotionPoint, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Sender != chatmodel.SenderAssistant || m.Emotion == "" {
			continue
		}
		points = append(points, chatmodel.EmotionPoint{Emotion: m.Emotion, Timestamp: m.CreatedAt, MessageID: m.ID})
	}
	return points
}

// Export returns the transcript with stats.
func (s *Session) Export() chatmodel.Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := chatmodel.Export{
		Messages:   append([]chatmodel.Message(nil), s.messages...),
		Stats:      chatmodel.Summarize(s.messages, string(s.emotion)),
		ExportedAt: s.now(),
	}
	if s.persona != nil {
		out.Persona = chatmodel.PersonaRef{ID: s.persona.ID, Name: s.persona.Name}
	}
	return out
}

func (s *Session) queueLocked(t event.Type, data map[string]any) {
	s.events.Enqueue(event.New(t, data))
}
