package audio

import (
	"sync"
	"time"
)

// TimedOutput plays nothing and ends each instance after the clip's
// estimated duration. It backs headless runs where the UI renders audio.
type TimedOutput struct {
	Bitrate     int
	MinDuration time.Duration
}

// NewTimedOutput returns a TimedOutput using DefaultBitrate.
func NewTimedOutput() *TimedOutput {
	return &TimedOutput{Bitrate: DefaultBitrate, MinDuration: 50 * time.Millisecond}
}

// Start implements Output.
func (o *TimedOutput) Start(clip *Clip, opts Options) (Playback, error) {
	if clip == nil || clip.Len() == 0 {
		return nil, ErrEmptyClip
	}
	d := EstimateDuration(clip.Len(), o.Bitrate)
	if d < o.MinDuration {
		d = o.MinDuration
	}

	p := &timedPlayback{
		volume: Clamp(opts.Volume),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run(d, opts.Loop)
	return p, nil
}

type timedPlayback struct {
	mu       sync.Mutex
	volume   float64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (p *timedPlayback) run(d time.Duration, loop bool) {
	defer close(p.done)
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-timer.C:
			if !loop {
				return
			}
			timer.Reset(d)
		}
	}
}

func (p *timedPlayback) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = Clamp(v)
	p.mu.Unlock()
}

// Volume returns the current volume.
func (p *timedPlayback) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *timedPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *timedPlayback) Done() <-chan struct{} { return p.done }

func (p *timedPlayback) Err() error { return nil }
