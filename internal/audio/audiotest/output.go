// Package audiotest provides a controllable audio.Output for tests.
package audiotest

import (
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
)

// Output records every started playback. Playbacks never end on their own;
// tests call Finish, Fail or rely on Stop.
type Output struct {
	mu        sync.Mutex
	playbacks []*Playback
	startErr  error
	started   chan struct{}
}

// NewOutput returns an empty fake output.
func NewOutput() *Output {
	return &Output{started: make(chan struct{}, 64)}
}

// FailStarts makes subsequent Start calls return err.
func (o *Output) FailStarts(err error) {
	o.mu.Lock()
	o.startErr = err
	o.mu.Unlock()
}

// Start implements audio.Output.
func (o *Output) Start(clip *audio.Clip, opts audio.Options) (audio.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startErr != nil {
		return nil, o.startErr
	}
	if clip == nil || clip.Len() == 0 {
		return nil, audio.ErrEmptyClip
	}
	p := &Playback{
		Clip:   clip,
		Loop:   opts.Loop,
		volume: opts.Volume,
		done:   make(chan struct{}),
	}
	o.playbacks = append(o.playbacks, p)
	select {
	case o.started <- struct{}{}:
	default:
	}
	return p, nil
}

// Playbacks returns every playback started so far.
func (o *Output) Playbacks() []*Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Playback(nil), o.playbacks...)
}

// Last returns the most recent playback or nil.
func (o *Output) Last() *Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.playbacks) == 0 {
		return nil
	}
	return o.playbacks[len(o.playbacks)-1]
}

// Active counts playbacks that have not ended.
func (o *Output) Active() int {
	n := 0
	for _, p := range o.Playbacks() {
		if !p.Ended() {
			n++
		}
	}
	return n
}

// WaitStarted blocks until n playbacks exist or the timeout elapses.
func (o *Output) WaitStarted(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(o.Playbacks()) >= n {
			return true
		}
		select {
		case <-o.started:
		case <-deadline:
			return len(o.Playbacks()) >= n
		}
	}
}

// Playback is a fake playback instance.
type Playback struct {
	Clip *audio.Clip
	Loop bool

	mu      sync.Mutex
	volume  float64
	stopped bool
	err     error
	once    sync.Once
	done    chan struct{}
}

func (p *Playback) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// Volume returns the last volume set.
func (p *Playback) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Playback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.end()
}

// Stopped reports whether Stop was called.
func (p *Playback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Finish ends the playback naturally.
func (p *Playback) Finish() { p.end() }

// Fail ends the playback with an error.
func (p *Playback) Fail(err error) {
	if err == nil {
		err = errors.New("decode failure")
	}
	p.mu.Lock()
	p.err = &audio.PlaybackError{Err: err}
	p.mu.Unlock()
	p.end()
}

func (p *Playback) end() { p.once.Do(func() { close(p.done) }) }

// Ended reports whether Done is closed.
func (p *Playback) Ended() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Playback) Done() <-chan struct{} { return p.done }

func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
