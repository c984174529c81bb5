package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-tavern/roleplay/internal/analysis/emotion"
	"github.com/zhouzirui/z-tavern/roleplay/internal/analysis/speechtext"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

// Usage reports token counts of one reply, when the backend provides them.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Reply 是一次生成的结果。SpeechText 为 nil 表示不朗读。
type Reply struct {
	Text       string        `json:"text"`
	Emotion    emotion.Label `json:"emotion"`
	SpeechText *string       `json:"ttsText"`
	Usage      Usage         `json:"usage"`
}

// Fallback 返回后端不可用时的角色内兜底回复。
func Fallback(p persona.Persona) Reply {
	speech := "thinking deeply"
	return Reply{
		Text:       fmt.Sprintf("*%s seems to be thinking deeply and cannot respond right now*", p.Name),
		Emotion:    emotion.Thinking,
		SpeechText: &speech,
	}
}

// Options tune a Generator.
type Options struct {
	// Provider labels metrics and logs, e.g. "gemini" or "ark".
	Provider string
	// Timeout bounds one request including the rate limiter wait. Zero means 30s.
	Timeout time.Duration
	// RatePerMinute limits outgoing requests. Zero disables limiting.
	RatePerMinute int
	HistoryLimit  int
	Sampling      Sampling
	Extractor     speechtext.Extractor
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Generator turns a user utterance into an in-character reply.
type Generator struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	opts      Options
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewGenerator compiles the prompt chain around chatModel.
func NewGenerator(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*Generator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if opts.Provider == "" {
		opts.Provider = "custom"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Sampling == (Sampling{}) {
		opts.Sampling = DefaultSampling()
	}
	if opts.Extractor.MaxPlainWords <= 0 {
		opts.Extractor.MaxPlainWords = speechtext.DefaultMaxPlainWords
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{history}User: {query}\n{persona}:"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	g := &Generator{
		chatModel: chatModel,
		chain:     runnable,
		opts:      opts,
		logger:    opts.Logger.Named("ai"),
	}
	if opts.RatePerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	return g, nil
}

// Generate requests one reply. Failures are always *GenerationError and the
// generator never retries.
func (g *Generator) Generate(ctx context.Context, utterance string, p persona.Persona, history []chat.Message) (Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Reply{}, &GenerationError{Cause: CauseInvalid, Err: errors.New("utterance is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Reply{}, &GenerationError{Cause: CauseRateLimited, Err: err}
		}
	}

	input := map[string]any{
		"system":  SystemPrompt(p),
		"history": Transcript(history, p, g.opts.HistoryLimit),
		"query":   utterance,
		"persona": p.Name,
	}

	start := time.Now()
	response, err := g.chain.Invoke(ctx, input, compose.WithChatModelOption(g.sampling()...))
	if err == nil && (response == nil || strings.TrimSpace(response.Content) == "") {
		err = ErrEmptyResponse
	}
	g.opts.Metrics.ObserveGeneration(g.opts.Provider, time.Since(start), err)
	if err != nil {
		genErr := classify(err, ctx.Err())
		g.logger.Warn("reply generation failed",
			zap.String("persona", p.ID),
			zap.String("cause", string(genErr.Cause)),
			zap.Error(err),
		)
		return Reply{}, genErr
	}

	text := strings.TrimSpace(response.Content)
	reply := Reply{Text: text, Emotion: emotion.Classify(text)}
	if speech, ok := g.opts.Extractor.Extract(text); ok {
		reply.SpeechText = &speech
	}
	if meta := response.ResponseMeta; meta != nil && meta.Usage != nil {
		reply.Usage = Usage{
			PromptTokens:     meta.Usage.PromptTokens,
			CompletionTokens: meta.Usage.CompletionTokens,
			TotalTokens:      meta.Usage.TotalTokens,
		}
		g.opts.Metrics.AddTokens(reply.Usage.PromptTokens, reply.Usage.CompletionTokens)
	}

	g.logger.Debug("generated reply",
		zap.String("persona", p.ID),
		zap.String("emotion", string(reply.Emotion)),
		zap.Bool("speak", reply.SpeechText != nil),
		zap.Int("length", len(text)),
		zap.Duration("latency", time.Since(start)),
	)
	return reply, nil
}

// Ping sends a minimal request to check the backend is reachable.
func (g *Generator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	msg, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage("Hello")}, model.WithMaxTokens(5))
	if err == nil && (msg == nil || strings.TrimSpace(msg.Content) == "") {
		err = ErrEmptyResponse
	}
	if err != nil {
		return classify(err, ctx.Err())
	}
	return nil
}

// Provider returns the configured provider label.
func (g *Generator) Provider() string {
	return g.opts.Provider
}

func (g *Generator) sampling() []model.Option {
	s := g.opts.Sampling
	return []model.Option{
		model.WithTemperature(s.Temperature),
		model.WithTopP(s.TopP),
		model.WithMaxTokens(s.MaxOutputTokens),
	}
}
