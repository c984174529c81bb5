package chat

import "time"

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one immutable entry of the conversation log.
type Message struct {
	ID         string    `json:"id"`
	Sender     Sender    `json:"sender"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"timestamp"`
	Emotion    string    `json:"emotion,omitempty"`
	SpeechText *string   `json:"ttsText,omitempty"`
	Error      bool      `json:"isError,omitempty"`
}

// Speakable reports whether the message carries text to vocalize.
func (m Message) Speakable() bool {
	return m.SpeechText != nil && *m.SpeechText != ""
}
