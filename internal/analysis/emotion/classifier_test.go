package emotion

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestClassifyEveryPhrase(t *testing.T) {
	for _, category := range Categories() {
		for _, phrase := range category.Phrases {
			// 前面的类别优先，因此构造只包含当前短语的文本。
			text := "Well " + phrase + " indeed."
			if got := Classify(text); got != category.Label && !matchesEarlier(category.Label, text) {
				t.Fatalf("Classify(%q) = %s, want %s", text, got, category.Label)
			}
		}
	}
}

// matchesEarlier reports whether a higher priority category also matches text.
func matchesEarlier(label Label, text string) bool {
	lower := strings.ToLower(text)
	for _, category := range categories {
		if category.Label == label {
			return false
		}
		for _, phrase := range category.Phrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return true
			}
		}
	}
	return false
}

func TestClassifyNeutral(t *testing.T) {
	cases := []string{"", "hello", "smiles without markers", "*unknown gesture*"}
	for _, text := range cases {
		if got := Classify(text); got != Neutral {
			t.Fatalf("Classify(%q) = %s, want neutral", text, got)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	if got := Classify("*SMILES* hi"); got != Happy {
		t.Fatalf("expected happy, got %s", got)
	}
	if got := Classify("*led lights blinking*"); got != Surprised {
		t.Fatalf("expected surprised, got %s", got)
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	tests := []struct {
		text string
		want Label
	}{
		{text: "*sighs* then *smiles*", want: Happy},
		{text: "*waves* and *hmm*", want: Thinking},
		{text: "*gasps* *sighs*", want: Sad},
		{text: "*waves* Greetings traveler", want: Waving},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Fatalf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestClassifyAlwaysInClosedSet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		got := Classify(text)
		if !got.Valid() {
			t.Fatalf("Classify(%q) returned %q outside the label set", text, got)
		}
		if again := Classify(text); again != got {
			t.Fatalf("Classify not stable: %s then %s", got, again)
		}
	})
}

func TestParse(t *testing.T) {
	if got := Parse(" Happy "); got != Happy {
		t.Fatalf("Parse returned %s", got)
	}
	if got := Parse("angry"); got != Neutral {
		t.Fatalf("Parse of unknown label returned %s", got)
	}
}

func TestCategoriesReturnsCopy(t *testing.T) {
	cats := Categories()
	cats[0].Phrases[0] = "mutated"
	if categories[0].Phrases[0] == "mutated" {
		t.Fatal("Categories must not expose internal table")
	}
}
