// Package speechtext decides which part of a reply should be read aloud.
package speechtext

import (
	"regexp"
	"strings"
)

// DefaultMaxPlainWords 是没有动作标记时仍然朗读的最大词数。
const DefaultMaxPlainWords = 5

var (
	actionSpan = regexp.MustCompile(`\*(.*?)\*`)
	noise      = regexp.MustCompile(`[^\w\s.,!?]`)
)

// Extractor 从角色回复中抽取需要合成语音的文本。
type Extractor struct {
	// MaxPlainWords 为 0 时使用 DefaultMaxPlainWords。
	MaxPlainWords int
}

var defaultExtractor = Extractor{MaxPlainWords: DefaultMaxPlainWords}

// Extract uses the default word threshold.
func Extract(text string) (string, bool) {
	return defaultExtractor.Extract(text)
}

// Extract returns the text to vocalize and false when nothing should be spoken.
//
// Asterisk-delimited action spans win; each span is trimmed and the
// non-empty ones are joined with ". ". Without spans, short replies are
// spoken after noise removal and long ones are skipped.
func (e Extractor) Extract(text string) (string, bool) {
	if matches := actionSpan.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		parts := make([]string, 0, len(matches))
		for _, m := range matches {
			if part := strings.TrimSpace(m[1]); part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ". "), true
	}

	clean := strings.TrimSpace(noise.ReplaceAllString(text, ""))
	if clean == "" {
		return "", false
	}

	limit := e.MaxPlainWords
	if limit <= 0 {
		limit = DefaultMaxPlainWords
	}
	if len(strings.Fields(clean)) > limit {
		return "", false
	}
	return clean, true
}
