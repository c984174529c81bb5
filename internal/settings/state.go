package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
)

// Key is the store key of the audio preferences record.
const Key = "roleplay-chat-state"

// Channel 是单个音频通道的开关与音量。
type Channel struct {
	Enabled bool    `json:"isEnabled"`
	Volume  float64 `json:"volume"`
}

// State is the persisted preferences record.
type State struct {
	Speech  Channel `json:"tts"`
	Effects Channel `json:"soundEffects"`
}

// Default returns both channels enabled at their default volumes.
func Default() State {
	return State{
		Speech:  Channel{Enabled: true, Volume: 0.8},
		Effects: Channel{Enabled: true, Volume: 0.6},
	}
}

// Normalized clamps both volumes to [0,1].
func (s State) Normalized() State {
	s.Speech.Volume = audio.Clamp(s.Speech.Volume)
	s.Effects.Volume = audio.Clamp(s.Effects.Volume)
	return s
}

// Load reads the record. A missing record yields Default with no error; an
// unreadable one yields Default and the error.
func Load(ctx context.Context, store Store) (State, error) {
	raw, err := store.Get(ctx, Key)
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return Default(), err
	}

	st := Default()
	if err := json.Unmarshal(raw, &st); err != nil {
		return Default(), fmt.Errorf("decode settings: %w", err)
	}
	return st.Normalized(), nil
}

// Save writes the record.
func Save(ctx context.Context, store Store, st State) error {
	raw, err := json.Marshal(st.Normalized())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return store.Set(ctx, Key, raw)
}

// Patch is a partial update; nil fields are kept.
type Patch struct {
	Speech  *ChannelPatch `json:"tts,omitempty"`
	Effects *ChannelPatch `json:"soundEffects,omitempty"`
}

// ChannelPatch is a partial Channel.
type ChannelPatch struct {
	Enabled *bool    `json:"isEnabled,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// Apply returns s with p merged in.
func (s State) Apply(p Patch) State {
	s.Speech = p.Speech.apply(s.Speech)
	s.Effects = p.Effects.apply(s.Effects)
	return s.Normalized()
}

func (p *ChannelPatch) apply(c Channel) Channel {
	if p == nil {
		return c
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Volume != nil {
		c.Volume = *p.Volume
	}
	return c
}
