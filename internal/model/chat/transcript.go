package chat

import "time"

// Stats 汇总一次对话的消息统计。
type Stats struct {
	Total          int        `json:"totalMessages"`
	User           int        `json:"userMessages"`
	Assistant      int        `json:"aiMessages"`
	CurrentEmotion string     `json:"currentEmotion"`
	StartedAt      *time.Time `json:"conversationStarted,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessage,omitempty"`
}

// EmotionPoint is one assistant emotion in log order.
type EmotionPoint struct {
	Emotion   string    `json:"emotion"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId"`
}

// PersonaRef identifies the persona a transcript belongs to.
type PersonaRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Export 是对话导出的 JSON 结构。
type Export struct {
	Persona    PersonaRef `json:"character"`
	Messages   []Message  `json:"messages"`
	Stats      Stats      `json:"stats"`
	ExportedAt time.Time  `json:"exportedAt"`
}

// Summarize computes Stats over a message log.
func Summarize(messages []Message, current string) Stats {
	stats := Stats{Total: len(messages), CurrentEmotion: current}
	for _, m := range messages {
		switch m.Sender {
		case SenderUser:
			stats.User++
		case SenderAssistant:
			stats.Assistant++
		}
	}
	if len(messages) > 0 {
		first := messages[0].CreatedAt
		last := messages[len(messages)-1].CreatedAt
		stats.StartedAt = &first
		stats.LastMessageAt = &last
	}
	return stats
}
