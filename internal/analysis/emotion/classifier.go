package emotion

import "strings"

// Label 表示角色当前的情绪状态，取值为固定集合。
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Thinking  Label = "thinking"
	Sad       Label = "sad"
	Surprised Label = "surprised"
	Waving    Label = "waving"
)

// Labels lists every valid label, neutral first.
var Labels = []Label{Neutral, Happy, Thinking, Sad, Surprised, Waving}

// Category 将一个情绪与其动作短语关联。
type Category struct {
	Label   Label
	Phrases []string
}

// categories 的顺序即优先级：同一回复命中多个情绪时取靠前者。
var categories = []Category{
	{Label: Happy, Phrases: []string{
		"*smiles*", "*laughs*", "*chuckles*", "*grins*", "*beams*", "*chuckles warmly*",
		"*eyes twinkle*", "*happy beeping*", "*sparkles with joy*", "*glows with happiness*",
	}},
	{Label: Thinking, Phrases: []string{
		"*hmm*", "*ponders*", "*thinks*", "*considers*", "*strokes beard*", "*taps fingers*",
		"*peers intently*", "*circuits whirring*", "*adjusts headphones*", "*weaves thoughts*",
		"*analyzing*", "*processing*",
	}},
	{Label: Sad, Phrases: []string{
		"*sighs*", "*frowns*", "*looks down*", "*sadly*", "*feels sorrow*", "*looks troubled*",
		"*systems dimming*", "*cosmic sadness*", "*silver tears*",
	}},
	{Label: Surprised, Phrases: []string{
		"*gasps*", "*eyes widen*", "*startled*", "*amazed*", "*LED lights blinking*",
		"*taken aback*", "*drops beats in surprise*", "*stars align in shock*",
	}},
	{Label: Waving, Phrases: []string{
		"*waves*", "*gestures*", "*raises hand*", "*bows respectfully*", "*tentacles dancing*",
		"*magical greeting*", "*salutes*",
	}},
}

// Categories returns a copy of the ordered keyword table.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i, c := range categories {
		out[i] = Category{Label: c.Label, Phrases: append([]string(nil), c.Phrases...)}
	}
	return out
}

// Classify 按固定优先级做子串匹配，未命中时返回 Neutral。
func Classify(text string) Label {
	normalized := strings.ToLower(text)
	if normalized == "" {
		return Neutral
	}

	for _, category := range categories {
		for _, phrase := range category.Phrases {
			if strings.Contains(normalized, strings.ToLower(phrase)) {
				return category.Label
			}
		}
	}
	return Neutral
}

// Valid reports whether l belongs to the closed label set.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Parse 将任意字符串映射为情绪标签，无法识别时回退到 Neutral。
func Parse(raw string) Label {
	label := Label(strings.ToLower(strings.TrimSpace(raw)))
	if label.Valid() {
		return label
	}
	return Neutral
}
