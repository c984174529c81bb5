package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1))
	assert.Equal(t, 1.0, Clamp(5))
	assert.Equal(t, 0.25, Clamp(0.25))
}

func TestClipFree(t *testing.T) {
	clip := NewClip([]byte("abc"), "mp3")
	assert.Equal(t, 3, clip.Len())
	clip.Free()
	clip.Free()
	assert.True(t, clip.Freed())
	assert.Zero(t, clip.Len())
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, time.Second, EstimateDuration(16_000, 128_000))
	assert.Equal(t, time.Second, EstimateDuration(16_000, 0))
}

func TestTimedOutputEndsNaturally(t *testing.T) {
	out := &TimedOutput{Bitrate: 8_000_000, MinDuration: time.Millisecond}
	p, err := out.Start(NewClip(make([]byte, 100), "mp3"), Options{Volume: 2})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("timed playback did not end")
	}
	assert.NoError(t, p.Err())
	assert.Equal(t, 1.0, p.(*timedPlayback).Volume())
}

func TestTimedOutputLoopRunsUntilStopped(t *testing.T) {
	out := &TimedOutput{Bitrate: 8_000_000, MinDuration: time.Millisecond}
	p, err := out.Start(NewClip(make([]byte, 10), "mp3"), Options{Loop: true})
	require.NoError(t, err)

	select {
	case <-p.Done():
		t.Fatal("loop ended without Stop")
	case <-time.After(20 * time.Millisecond):
	}

	p.Stop()
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestTimedOutputRejectsEmptyClip(t *testing.T) {
	_, err := NewTimedOutput().Start(NewClip(nil, "mp3"), Options{})
	assert.ErrorIs(t, err, ErrEmptyClip)
	_, err = NewTimedOutput().Start(nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyClip)
}

func TestParseCommand(t *testing.T) {
	name, args, err := ParseCommand("ffplay -nodisp -autoexit -volume {volume} -")
	require.NoError(t, err)
	assert.Equal(t, "ffplay", name)
	assert.Equal(t, []string{"-nodisp", "-autoexit", "-volume", "{volume}", "-"}, args)

	_, _, err = ParseCommand("   ")
	assert.Error(t, err)
}

func TestCommandOutputSubstitutesVolume(t *testing.T) {
	out := &CommandOutput{path: "/bin/true", args: []string{"-volume", VolumePlaceholder}}
	cmd := out.command(t.Context(), 0.8, []byte("x"))
	assert.Equal(t, []string{"/bin/true", "-volume", "80"}, cmd.Args)
}

func TestAnnounceMirrorsPlayback(t *testing.T) {
	rec := &event.Recorder{}
	out := Announce(&TimedOutput{Bitrate: 8_000_000, MinDuration: 30 * time.Millisecond}, rec, "speech")

	p, err := out.Start(NewClip([]byte("abc"), "mp3"), Options{Volume: 0.5})
	require.NoError(t, err)
	p.SetVolume(0.3)
	<-p.Done()

	require.Eventually(t, func() bool { return len(rec.Events()) == 3 }, time.Second, 5*time.Millisecond)
	events := rec.Events()
	assert.Equal(t, event.TypeAudioStarted, events[0].Type)
	assert.Equal(t, "YWJj", events[0].Data["audio"])
	assert.Equal(t, "speech", events[0].Data["channel"])
	assert.Equal(t, event.TypeAudioVolume, events[1].Type)
	assert.Equal(t, event.TypeAudioEnded, events[2].Type)
}
