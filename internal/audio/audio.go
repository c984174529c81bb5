// Package audio abstracts the device that turns encoded clips into sound.
// Every Start call yields an independent playback instance so overlapping
// cues never share a handle.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptyClip is returned when starting a clip without data.
var ErrEmptyClip = errors.New("audio clip is empty")

// Clip holds encoded audio bytes.
type Clip struct {
	mu     sync.RWMutex
	data   []byte
	format string
}

// NewClip wraps data in a Clip. format is a short codec name such as "mp3".
func NewClip(data []byte, format string) *Clip {
	return &Clip{data: data, format: format}
}

// Bytes returns the backing bytes, nil once freed.
func (c *Clip) Bytes() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// Format returns the codec name.
func (c *Clip) Format() string { return c.format }

// Len returns the byte length, zero once freed.
func (c *Clip) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Free drops the backing bytes. Safe to call more than once.
func (c *Clip) Free() {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
}

// Freed reports whether Free has been called.
func (c *Clip) Freed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data == nil
}

// Options control one playback instance.
type Options struct {
	Volume float64
	Loop   bool
}

// Playback is a single running instance of a clip.
type Playback interface {
	SetVolume(v float64)
	Stop()
	// Done is closed when playback ends naturally, fails or is stopped.
	Done() <-chan struct{}
	// Err is non-nil after Done when playback failed.
	Err() error
}

// Output starts playback instances.
type Output interface {
	Start(clip *Clip, opts Options) (Playback, error)
}

// PlaybackError reports a failure while a clip was playing.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback failed: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Clamp limits v to [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// DefaultBitrate is used to estimate clip duration (128 kbit/s MP3).
const DefaultBitrate = 128_000

// EstimateDuration converts a byte length to play time at bitrate bits/s.
func EstimateDuration(n int, bitrate int) time.Duration {
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	return time.Duration(float64(n*8) / float64(bitrate) * float64(time.Second))
}
