package ai

import (
	"strings"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

// DefaultHistoryLimit 是随请求发送的最近消息条数。
const DefaultHistoryLimit = 6

var expressionRules = []string{
	"Always wrap emotional expressions, actions and sounds in asterisks, like *sighs*, *laughs softly* or *waves*.",
	"Use short interjections such as *hmm*, *ah* or *oh* to show what you feel.",
	"ONLY the text between asterisks is read aloud, so keep it short and expressive.",
	"Plain dialogue is not spoken unless the whole reply is under 5 words.",
	"Stay in character at all times.",
	"Keep responses under 100 words.",
}

// SystemPrompt 由角色提示词和固定的情绪表达规则组成。
func SystemPrompt(p persona.Persona) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Prompt))
	b.WriteString("\n\nCRITICAL INSTRUCTIONS FOR EMOTIONAL EXPRESSION:")
	for _, rule := range expressionRules {
		b.WriteString("\n- ")
		b.WriteString(rule)
	}
	return b.String()
}

// Transcript renders the last limit messages as speaker-prefixed lines,
// followed by a blank line. It returns "" for an empty history.
func Transcript(history []chat.Message, p persona.Persona, limit int) string {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if len(history) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, msg := range history {
		if msg.Sender == chat.SenderUser {
			b.WriteString("User: ")
		} else {
			b.WriteString(p.Name)
			b.WriteString(": ")
		}
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
