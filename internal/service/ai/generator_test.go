package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/roleplay/internal/analysis/emotion"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

type fakeChatModel struct {
	mu      sync.Mutex
	reply   *schema.Message
	err     error
	delay   time.Duration
	inputs  [][]*schema.Message
	options []*model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.options = append(f.options, model.GetCommonOptions(&model.Options{}, opts...))
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) lastInput() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

var gandalf = persona.Persona{ID: "gandalf", Name: "Gandalf", Prompt: "You are Gandalf the Grey."}

func newTestGenerator(t *testing.T, fake *fakeChatModel, opts Options) *Generator {
	t.Helper()
	g, err := NewGenerator(context.Background(), fake, opts)
	require.NoError(t, err)
	return g
}

func TestGenerateBuildsPromptAndReply(t *testing.T) {
	fake := &fakeChatModel{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "  *chuckles warmly* Welcome, friend.  ",
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens: 40, CompletionTokens: 8, TotalTokens: 48,
		}},
	}}
	g := newTestGenerator(t, fake, Options{})

	history := make([]chat.Message, 0, 8)
	for i := 0; i < 8; i++ {
		sender := chat.SenderUser
		if i%2 == 1 {
			sender = chat.SenderAssistant
		}
		history = append(history, chat.Message{Sender: sender, Text: "line" + string(rune('0'+i))})
	}

	reply, err := g.Generate(context.Background(), " Hello there ", gandalf, history)
	require.NoError(t, err)

	assert.Equal(t, "*chuckles warmly* Welcome, friend.", reply.Text)
	assert.Equal(t, emotion.Happy, reply.Emotion)
	require.NotNil(t, reply.SpeechText)
	assert.Equal(t, "chuckles warmly", *reply.SpeechText)
	assert.Equal(t, Usage{PromptTokens: 40, CompletionTokens: 8, TotalTokens: 48}, reply.Usage)

	input := fake.lastInput()
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.True(t, strings.HasPrefix(input[0].Content, "You are Gandalf the Grey."))
	assert.Contains(t, input[0].Content, "CRITICAL INSTRUCTIONS FOR EMOTIONAL EXPRESSION:")

	user := input[1].Content
	assert.True(t, strings.HasPrefix(user, "Previous conversation:\n"))
	assert.NotContains(t, user, "line0")
	assert.NotContains(t, user, "line1")
	assert.Contains(t, user, "User: line2\n")
	assert.Contains(t, user, "Gandalf: line7\n")
	assert.True(t, strings.HasSuffix(user, "User: Hello there\nGandalf:"))

	opts := fake.options[0]
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.9, *opts.Temperature, 1e-6)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, 500, *opts.MaxTokens)
}

func TestGenerateWithoutHistoryOmitsTranscript(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("A long reply that has far too many plain words to speak.", nil)}
	g := newTestGenerator(t, fake, Options{})

	reply, err := g.Generate(context.Background(), "hi", gandalf, nil)
	require.NoError(t, err)
	assert.Nil(t, reply.SpeechText)
	assert.Equal(t, emotion.Neutral, reply.Emotion)
	assert.Equal(t, "User: hi\nGandalf:", fake.lastInput()[1].Content)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeChatModel
		opts       Options
		utterance  string
		wantCause  Cause
		wantStatus int
	}{
		{name: "empty utterance", fake: &fakeChatModel{}, utterance: "  ", wantCause: CauseInvalid},
		{name: "transport", fake: &fakeChatModel{err: errors.New("connection reset")}, utterance: "hi", wantCause: CauseBackend},
		{name: "empty text", fake: &fakeChatModel{reply: schema.AssistantMessage("   ", nil)}, utterance: "hi", wantCause: CauseEmpty},
		{
			name:      "timeout",
			fake:      &fakeChatModel{delay: time.Second, reply: schema.AssistantMessage("late", nil)},
			opts:      Options{Timeout: 20 * time.Millisecond},
			utterance: "hi",
			wantCause: CauseTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, tt.fake, tt.opts)
			_, err := g.Generate(context.Background(), tt.utterance, gandalf, nil)

			var ge *GenerationError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tt.wantCause, ge.Cause)
			assert.Equal(t, tt.wantStatus, ge.Status)
		})
	}
}

func TestGenerateCanceledByCaller(t *testing.T) {
	fake := &fakeChatModel{delay: time.Second, reply: schema.AssistantMessage("late", nil)}
	g := newTestGenerator(t, fake, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.Generate(ctx, "hi", gandalf, nil)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CauseCanceled, ge.Cause)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Cause
	}{
		{code: 401, want: CauseCredentials},
		{code: 403, want: CauseCredentials},
		{code: 429, want: CauseRateLimited},
		{code: 500, want: CauseBackend},
	}
	for _, tt := range tests {
		err := classify(&StatusError{Code: tt.code, Err: errors.New("x")}, nil)
		assert.Equal(t, tt.want, err.Cause, "status %d", tt.code)
		assert.Equal(t, tt.code, err.Status)
	}
}

func TestFallback(t *testing.T) {
	reply := Fallback(persona.Persona{Name: "Sherlock Holmes"})
	assert.Equal(t, "*Sherlock Holmes seems to be thinking deeply and cannot respond right now*", reply.Text)
	assert.Equal(t, emotion.Thinking, reply.Emotion)
	require.NotNil(t, reply.SpeechText)
	assert.Equal(t, "thinking deeply", *reply.SpeechText)
}

func TestPing(t *testing.T) {
	ok := newTestGenerator(t, &fakeChatModel{reply: schema.AssistantMessage("Hi", nil)}, Options{})
	assert.NoError(t, ok.Ping(context.Background()))

	broken := newTestGenerator(t, &fakeChatModel{err: &StatusError{Code: 401, Err: errors.New("bad key")}}, Options{})
	err := broken.Ping(context.Background())
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CauseCredentials, ge.Cause)
}

func TestRateLimiterWaitRespectsTimeout(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("*nods*", nil)}
	g := newTestGenerator(t, fake, Options{RatePerMinute: 1, Timeout: 50 * time.Millisecond})

	_, err := g.Generate(context.Background(), "first", gandalf, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "second", gandalf, nil)
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CauseRateLimited, ge.Cause)
}
