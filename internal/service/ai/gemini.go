package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// DefaultGeminiModel 是未配置时使用的 Gemini 模型。
const DefaultGeminiModel = "gemini-1.5-flash"

// Sampling holds the fixed sampling parameters of a reply request.
type Sampling struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
}

// DefaultSampling returns temperature 0.9, top-p 0.8, top-k 40 and 500 tokens.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.9, TopP: 0.8, TopK: 40, MaxOutputTokens: 500}
}

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// GeminiConfig 描述 Gemini 后端配置。
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Sampling   Sampling
}

// GeminiModel adapts the Gemini generateContent API to an eino chat model.
type GeminiModel struct {
	client   *genai.Client
	model    string
	sampling Sampling
}

// NewGeminiModel creates a GeminiModel. An empty API key is rejected.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &GenerationError{Cause: CauseCredentials, Err: errors.New("gemini api key is not configured")}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Sampling == (Sampling{}) {
		cfg.Sampling = DefaultSampling()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: cfg.Model, sampling: cfg.Sampling}, nil
}

// Generate implements model.BaseChatModel.
func (m *GeminiModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: &m.sampling.Temperature,
		TopP:        &m.sampling.TopP,
		MaxTokens:   &m.sampling.MaxOutputTokens,
		Model:       &m.model,
	}, opts...)

	contents, system := toContents(input)
	config := &genai.GenerateContentConfig{
		Temperature:     options.Temperature,
		TopP:            options.TopP,
		TopK:            genai.Ptr(m.sampling.TopK),
		MaxOutputTokens: int32(*options.MaxTokens),
		SafetySettings:  safetySettings(),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := m.client.Models.GenerateContent(ctx, *options.Model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Code: apiErr.Code, Err: err}
		}
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	return fromResponse(resp)
}

// Stream returns the full reply as a single chunk.
func (m *GeminiModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func safetySettings() []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		out = append(out, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return out
}

// toContents splits system messages out as the system instruction.
func toContents(input []*schema.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func fromResponse(resp *genai.GenerateContentResponse) (*schema.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return nil, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	var b strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, ErrEmptyResponse
	}

	msg := schema.AssistantMessage(b.String(), nil)
	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: string(candidate.FinishReason)}
	if usage := resp.UsageMetadata; usage != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return msg, nil
}
