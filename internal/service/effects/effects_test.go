package effects

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
	"github.com/zhouzirui/z-tavern/roleplay/internal/audio/audiotest"
	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

func who(id string) persona.Persona { return persona.Persona{ID: id} }

func fullRegistry() *Registry {
	reg := NewRegistry()
	for key := range SoundFiles {
		reg.Register(key, audio.NewClip([]byte(key), "mp3"))
	}
	return reg
}

func TestKeyLookups(t *testing.T) {
	tests := []struct {
		persona      string
		typing       string
		notification string
	}{
		{persona: "gandalf", typing: "typewriter-mystical", notification: "bell-magical"},
		{persona: "sherlock", typing: "typewriter-classic", notification: "bell-victorian"},
		{persona: "robot", typing: "typewriter-robotic", notification: "beep-digital"},
		{persona: "knight", typing: "typewriter-medieval", notification: "bell-castle"},
		{persona: "alien", typing: "typewriter-cosmic", notification: "beep-alien"},
		{persona: "sorceress", typing: "typewriter-magical", notification: "chime-ethereal"},
		{persona: "stranger", typing: "typewriter-robotic", notification: "notification"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.typing, TypingKey(who(tt.persona)), tt.persona)
		assert.Equal(t, tt.notification, NotificationKey(who(tt.persona)), tt.persona)
	}
}

func TestKeyLookupsPreferPersonaOverrides(t *testing.T) {
	p := persona.Persona{ID: "gandalf", SoundEffects: persona.SoundEffects{Typing: "typewriter-cosmic", Notification: "beep-alien"}}
	assert.Equal(t, "typewriter-cosmic", TypingKey(p))
	assert.Equal(t, "beep-alien", NotificationKey(p))

	custom := persona.Persona{ID: "pirate", SoundEffects: persona.SoundEffects{Notification: "bell-castle"}}
	assert.Equal(t, "typewriter-robotic", TypingKey(custom))
	assert.Equal(t, "bell-castle", NotificationKey(custom))
}

func TestCuesUsePersonaOverrides(t *testing.T) {
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{})
	pirate := persona.Persona{ID: "pirate", SoundEffects: persona.SoundEffects{Typing: "typewriter-medieval", Notification: "bell-castle"}}

	require.NoError(t, p.Notify(pirate))
	assert.Equal(t, []byte("bell-castle"), out.Last().Clip.Bytes())

	require.NoError(t, p.StartTyping(pirate, time.Hour))
	assert.Equal(t, []byte("typewriter-medieval"), out.Last().Clip.Bytes())
}

func TestUnregisteredOverrideFallsBackToBuiltin(t *testing.T) {
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{})
	odd := persona.Persona{ID: "sherlock", SoundEffects: persona.SoundEffects{Typing: "kazoo", Notification: "gong"}}

	require.NoError(t, p.Notify(odd))
	assert.Equal(t, []byte("bell-victorian"), out.Last().Clip.Bytes())

	require.NoError(t, p.StartTyping(odd, time.Hour))
	assert.Equal(t, []byte("typewriter-classic"), out.Last().Clip.Bytes())
}

func TestPlayVolumes(t *testing.T) {
	out := audiotest.NewOutput()
	rec := &event.Recorder{}
	p := NewPlayer(fullRegistry(), out, Options{Events: rec})

	require.NoError(t, p.Notify(who("gandalf")))
	require.NoError(t, p.MessageSent())
	half := 0.5
	require.NoError(t, p.Play(KeyNotification, &half))

	playbacks := out.Playbacks()
	require.Len(t, playbacks, 3)
	assert.Equal(t, []byte("bell-magical"), playbacks[0].Clip.Bytes())
	assert.InDelta(t, 0.6*0.8, playbacks[0].Volume(), 1e-9)
	assert.InDelta(t, 0.4*0.8, playbacks[1].Volume(), 1e-9)
	assert.InDelta(t, 0.5*0.8, playbacks[2].Volume(), 1e-9)
	assert.Len(t, rec.Events(), 3)
}

func TestPlayOverlapsInstances(t *testing.T) {
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{})

	require.NoError(t, p.Play(KeyNotification, nil))
	require.NoError(t, p.Play(KeyNotification, nil))
	assert.Equal(t, 2, out.Active())
	assert.NotSame(t, out.Playbacks()[0], out.Playbacks()[1])
}

func TestPlayUnknownKey(t *testing.T) {
	p := NewPlayer(NewRegistry(), audiotest.NewOutput(), Options{})
	assert.ErrorIs(t, p.Play("missing", nil), ErrUnknownSound)
}

func TestTypingLoop(t *testing.T) {
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{})

	require.NoError(t, p.StartTyping(who("knight"), time.Hour))
	first := out.Last()
	assert.True(t, first.Loop)
	assert.Equal(t, []byte("typewriter-medieval"), first.Clip.Bytes())
	assert.InDelta(t, 0.6*0.7*0.8, first.Volume(), 1e-9)

	require.NoError(t, p.StartTyping(who("alien"), time.Hour))
	assert.True(t, first.Stopped())
	assert.Equal(t, 1, out.Active())

	p.SetMasterVolume(0.5)
	assert.InDelta(t, 0.6*0.7*0.5, out.Last().Volume(), 1e-9)

	p.StopTyping()
	assert.False(t, p.Typing())
	assert.Zero(t, out.Active())
}

func TestTypingAutoStops(t *testing.T) {
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{})

	require.NoError(t, p.StartTyping(who("robot"), 20*time.Millisecond))
	require.Eventually(t, func() bool { return !p.Typing() }, time.Second, time.Millisecond)
	assert.True(t, out.Last().Stopped())
}

func TestTypingFallsBackToGenericKey(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KeyTypewriter, audio.NewClip([]byte("generic"), "mp3"))
	out := audiotest.NewOutput()
	p := NewPlayer(reg, out, Options{})

	require.NoError(t, p.StartTyping(who("gandalf"), time.Hour))
	assert.Equal(t, []byte("generic"), out.Last().Clip.Bytes())

	empty := NewPlayer(NewRegistry(), out, Options{})
	assert.ErrorIs(t, empty.StartTyping(who("gandalf"), time.Hour), ErrUnknownSound)
}

func TestDisableGatesCuesAndStopsLoop(t *testing.T) {
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{})

	require.NoError(t, p.StartTyping(who("robot"), time.Hour))
	p.SetEnabled(false)
	assert.True(t, out.Last().Stopped())

	require.NoError(t, p.Notify(who("robot")))
	require.NoError(t, p.StartTyping(who("robot"), time.Hour))
	assert.Len(t, out.Playbacks(), 1)

	p.SetEnabled(true)
	require.NoError(t, p.Notify(who("robot")))
	assert.Len(t, out.Playbacks(), 2)
}

func TestVolumeClamping(t *testing.T) {
	p := NewPlayer(nil, audiotest.NewOutput(), Options{})
	p.SetVolume(3)
	p.SetMasterVolume(-1)
	effects, master := p.Volumes()
	assert.Equal(t, 1.0, effects)
	assert.Equal(t, 0.0, master)
}

func TestZeroLevelsStartMuted(t *testing.T) {
	zero := 0.0
	out := audiotest.NewOutput()
	p := NewPlayer(fullRegistry(), out, Options{Volume: &zero})
	effects, master := p.Volumes()
	assert.Zero(t, effects)
	assert.Equal(t, DefaultMasterVolume, master)

	require.NoError(t, p.Notify(who("robot")))
	assert.Zero(t, out.Last().Volume())

	silent := NewPlayer(nil, out, Options{Master: &zero})
	_, master = silent.Volumes()
	assert.Zero(t, master)
}

func TestCloseClearsRegistry(t *testing.T) {
	reg := fullRegistry()
	out := audiotest.NewOutput()
	p := NewPlayer(reg, out, Options{})
	require.NoError(t, p.StartTyping(who("robot"), time.Hour))

	p.Close()
	assert.Zero(t, reg.Len())
	assert.True(t, out.Last().Stopped())
	assert.NoError(t, p.Notify(who("robot")))
	assert.Len(t, out.Playbacks(), 1)
}

func TestLoadDirAppliesFallbacks(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("typewriter-robotic.mp3", "robotic")
	write("notification-ting.mp3", "ting")
	write("bell-magical.mp3", "magic bell")
	write("typewriter-classic.mp3", "")

	reg, err := LoadDir(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	clip := func(key string) string {
		c, ok := reg.Clip(key)
		require.True(t, ok, "missing %s", key)
		return string(c.Bytes())
	}
	assert.Equal(t, "magic bell", clip("bell-magical"))
	assert.Equal(t, "ting", clip("bell-castle"))
	assert.Equal(t, "ting", clip("chime-ethereal"))
	assert.Equal(t, "ting", clip(KeyNotification))
	assert.Equal(t, "robotic", clip("typewriter-mystical"))
	assert.Equal(t, "robotic", clip("typewriter-classic"))
	assert.Equal(t, "robotic", clip(KeyTypewriter))

	_, ok := reg.Clip(KeyMessageSent)
	assert.False(t, ok)
	assert.Equal(t, len(SoundFiles)-1, reg.Len())
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}
