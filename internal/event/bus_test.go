package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFiltersByType(t *testing.T) {
	bus := NewBus()

	var typing, all []Type
	bus.Subscribe(func(ev Event) { typing = append(typing, ev.Type) }, TypeTypingChanged)
	bus.Subscribe(func(ev Event) { all = append(all, ev.Type) })

	bus.Publish(New(TypeMessageAppended, nil))
	bus.Publish(New(TypeTypingChanged, map[string]any{"typing": true}))

	assert.Equal(t, []Type{TypeTypingChanged}, typing)
	assert.Equal(t, []Type{TypeMessageAppended, TypeTypingChanged}, all)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	cancel := bus.Subscribe(func(Event) { count++ })

	bus.Publish(New(TypeErrorSet, nil))
	cancel()
	cancel()
	bus.Publish(New(TypeErrorSet, nil))

	assert.Equal(t, 1, count)
}

func TestBusHandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	nested := 0
	bus.Subscribe(func(Event) {
		bus.Subscribe(func(Event) { nested++ })
	}, TypeEmotionChanged)

	bus.Publish(New(TypeEmotionChanged, nil))
	bus.Publish(New(TypeEmotionChanged, nil))

	assert.Equal(t, 1, nested)
}

func TestNewAssignsIdentity(t *testing.T) {
	a := New(TypeSpeechState, nil)
	b := New(TypeSpeechState, nil)
	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Publish(New(TypeMessagesReset, nil))
	Discard.Publish(New(TypeMessagesReset, nil))
	assert.Equal(t, []Type{TypeMessagesReset}, rec.Types())
	assert.Len(t, rec.Events(), 1)
}
