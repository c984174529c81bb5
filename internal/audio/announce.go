package audio

import (
	"encoding/base64"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
)

// Announce decorates out so every playback is mirrored on pub. A browser
// client subscribed to the bus can render the audio itself.
func Announce(out Output, pub event.Publisher, channel string) Output {
	return &announcer{out: out, pub: pub, channel: channel}
}

type announcer struct {
	out     Output
	pub     event.Publisher
	channel string
}

func (a *announcer) Start(clip *Clip, opts Options) (Playback, error) {
	inner, err := a.out.Start(clip, opts)
	if err != nil {
		return nil, err
	}

	p := &announcedPlayback{Playback: inner, id: uuid.NewString(), announcer: a}
	a.pub.Publish(event.New(event.TypeAudioStarted, map[string]any{
		"playbackId": p.id,
		"channel":    a.channel,
		"format":     clip.Format(),
		"audio":      base64.StdEncoding.EncodeToString(clip.Bytes()),
		"volume":     Clamp(opts.Volume),
		"loop":       opts.Loop,
	}))
	go func() {
		<-inner.Done()
		p.ended()
	}()
	return p, nil
}

type announcedPlayback struct {
	Playback
	id        string
	announcer *announcer
	once      sync.Once
}

func (p *announcedPlayback) SetVolume(v float64) {
	p.Playback.SetVolume(v)
	p.announcer.pub.Publish(event.New(event.TypeAudioVolume, map[string]any{
		"playbackId": p.id,
		"channel":    p.announcer.channel,
		"volume":     Clamp(v),
	}))
}

func (p *announcedPlayback) ended() {
	p.once.Do(func() {
		data := map[string]any{"playbackId": p.id, "channel": p.announcer.channel}
		if err := p.Playback.Err(); err != nil {
			data["error"] = err.Error()
		}
		p.announcer.pub.Publish(event.New(event.TypeAudioEnded, data))
	})
}
