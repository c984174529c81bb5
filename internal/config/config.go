package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-tavern/roleplay/internal/analysis/speechtext"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/ai"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Speech   SpeechConfig
	Effects  EffectsConfig
	Audio    AudioConfig
	Settings SettingsConfig
	Log      LogConfig
	// PersonasFile 为空时使用内置角色。
	PersonasFile string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	aiCfg, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speechCfg, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	effects, err := loadEffectsConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	settings, err := loadSettingsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		AI:           aiCfg,
		Speech:       speechCfg,
		Effects:      effects,
		Audio:        audio,
		Settings:     settings,
		Log:          loadLogConfig(),
		PersonasFile: strings.TrimSpace(os.Getenv("PERSONAS_FILE")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr    string
	Metrics bool
	// CORSOrigins 为空时允许任意来源。
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return ServerConfig{}, err
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, Metrics: metrics, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Metrics: metrics, CORSOrigins: origins}, nil
}

// Providers
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	RatePerMinute int
	Timeout       time.Duration
	HistoryLimit  int
}

// Enabled 表示当前提供方是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderArk {
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	}
	return c.GeminiAPIKey != ""
}

// Sampling returns the fixed sampling parameters with env overrides applied.
func (c AIConfig) Sampling() ai.Sampling {
	s := ai.DefaultSampling()
	if c.Temperature != nil {
		s.Temperature = float32(*c.Temperature)
	}
	if c.TopP != nil {
		s.TopP = float32(*c.TopP)
	}
	if c.MaxTokens != nil {
		s.MaxOutputTokens = *c.MaxTokens
	}
	return s
}

// GeneratorOptions maps the config onto ai.Options; logger and metrics are left to the caller.
func (c AIConfig) GeneratorOptions(plainWords int) ai.Options {
	return ai.Options{
		Provider:      c.Provider,
		Timeout:       c.Timeout,
		RatePerMinute: c.RatePerMinute,
		HistoryLimit:  c.HistoryLimit,
		Sampling:      c.Sampling(),
		Extractor:     speechtext.Extractor{MaxPlainWords: plainWords},
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		if c.Provider == ProviderArk {
			return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
		}
		return nil, fmt.Errorf("Gemini 凭证缺失，请设置 GEMINI_API_KEY")
	}

	sampling := c.Sampling()
	if c.Provider == ProviderGemini {
		return ai.NewGeminiModel(ctx, ai.GeminiConfig{
			APIKey:   c.GeminiAPIKey,
			Model:    c.GeminiModel,
			BaseURL:  c.GeminiBaseURL,
			Sampling: sampling,
		})
	}

	maxTokens := sampling.MaxOutputTokens
	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &sampling.Temperature,
		TopP:        &sampling.TopP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: want gemini or ark", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	rate := 0
	if override, err := parseOptionalIntEnv("AI_RATE_PER_MINUTE"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		rate = *override
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	history := ai.DefaultHistoryLimit
	if historyOverride, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			history = 1
		} else {
			history = *historyOverride
		}
	}

	arkModel := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if arkModel == "" {
		arkModel = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		Provider:      provider,
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", ai.DefaultGeminiModel),
		GeminiBaseURL: getEnvOrDefault("GEMINI_BASE_URL", ""),
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         arkModel,
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		RatePerMinute: rate,
		Timeout:       timeout,
		HistoryLimit:  history,
	}, nil
}

// SpeechConfig 描述 ElevenLabs 语音配置。
type SpeechConfig struct {
	APIKey         string
	BaseURL        string
	ModelID        string
	Timeout        time.Duration
	CharacterLimit int
	WarnRatio      float64
	PlainWordLimit int
}

// Enabled 表示是否提供了语音密钥。
func (c SpeechConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	limit := speech.DefaultCharacterLimit
	if override, err := parseOptionalIntEnv("SPEECH_CHARACTER_LIMIT"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil && *override > 0 {
		limit = *override
	}

	warn := 0.8
	if override, err := parseOptionalFloatEnv("SPEECH_WARN_RATIO"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil {
		if *override <= 0 || *override > 1 {
			return SpeechConfig{}, fmt.Errorf("invalid SPEECH_WARN_RATIO value %v: want (0,1]", *override)
		}
		warn = *override
	}

	words := speechtext.DefaultMaxPlainWords
	if override, err := parseOptionalIntEnv("SPEECH_PLAIN_WORD_LIMIT"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil && *override > 0 {
		words = *override
	}

	return SpeechConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		BaseURL:        getEnvOrDefault("ELEVENLABS_BASE_URL", speech.DefaultBaseURL),
		ModelID:        getEnvOrDefault("ELEVENLABS_MODEL_ID", speech.DefaultModelID),
		Timeout:        timeout,
		CharacterLimit: limit,
		WarnRatio:      warn,
		PlainWordLimit: words,
	}, nil
}

// EffectsConfig 描述音效资源配置。
type EffectsConfig struct {
	SoundsDir      string
	TypingDuration time.Duration
}

func loadEffectsConfig() (EffectsConfig, error) {
	typing, err := parseDurationEnv("EFFECTS_TYPING_DURATION", 2*time.Second)
	if err != nil {
		return EffectsConfig{}, err
	}
	return EffectsConfig{
		SoundsDir:      getEnvOrDefault("SOUNDS_DIR", "./sounds"),
		TypingDuration: typing,
	}, nil
}

// Audio outputs
const (
	OutputTimed   = "timed"
	OutputCommand = "command"
)

// AudioConfig 描述本地音频输出。
type AudioConfig struct {
	Output    string
	PlayerCmd string
}

func loadAudioConfig() (AudioConfig, error) {
	output := strings.ToLower(getEnvOrDefault("AUDIO_OUTPUT", OutputTimed))
	cfg := AudioConfig{
		Output:    output,
		PlayerCmd: getEnvOrDefault("AUDIO_PLAYER_CMD", "ffplay -nodisp -autoexit -loglevel quiet -volume {volume} -"),
	}
	switch output {
	case OutputTimed, OutputCommand:
		return cfg, nil
	default:
		return AudioConfig{}, fmt.Errorf("invalid AUDIO_OUTPUT value %q: want timed or command", output)
	}
}

// Settings backends
const (
	SettingsMemory = "memory"
	SettingsFile   = "file"
	SettingsRedis  = "redis"
)

// SettingsConfig 描述偏好设置的存储位置。
type SettingsConfig struct {
	Backend       string
	File          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func loadSettingsConfig() (SettingsConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("SETTINGS_BACKEND", SettingsFile))
	switch backend {
	case SettingsMemory, SettingsFile, SettingsRedis:
	default:
		return SettingsConfig{}, fmt.Errorf("invalid SETTINGS_BACKEND value %q: want memory, file or redis", backend)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return SettingsConfig{}, err
	} else if override != nil {
		db = *override
	}

	return SettingsConfig{
		Backend:       backend,
		File:          getEnvOrDefault("SETTINGS_FILE", "./data/settings.yaml"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		RedisPrefix:   getEnvOrDefault("REDIS_PREFIX", "tavern:"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv accepts Go durations ("45s") or whole seconds ("45").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return d, nil
}
