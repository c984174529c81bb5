package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// VolumePlaceholder in CommandOutput args is replaced by the volume in percent.
const VolumePlaceholder = "{volume}"

// CommandOutput pipes each clip into an external player process, for
// example `ffplay -nodisp -autoexit -loglevel quiet -volume {volume} -`.
// Volume changes take effect on the next loop iteration.
type CommandOutput struct {
	path string
	args []string
}

// NewCommandOutput resolves name on PATH.
func NewCommandOutput(name string, args []string) (*CommandOutput, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("audio player %q not found: %w", name, err)
	}
	return &CommandOutput{path: path, args: append([]string(nil), args...)}, nil
}

// ParseCommand splits a player command line on whitespace.
func ParseCommand(line string) (string, []string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty audio player command")
	}
	return fields[0], fields[1:], nil
}

// Start implements Output.
func (o *CommandOutput) Start(clip *Clip, opts Options) (Playback, error) {
	if clip == nil || clip.Len() == 0 {
		return nil, ErrEmptyClip
	}
	data := clip.Bytes()

	ctx, cancel := context.WithCancel(context.Background())
	p := &commandPlayback{
		output: o,
		volume: Clamp(opts.Volume),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx, data, opts.Loop)
	return p, nil
}

func (o *CommandOutput) command(ctx context.Context, volume float64, data []byte) *exec.Cmd {
	percent := strconv.Itoa(int(volume*100 + 0.5))
	args := make([]string, len(o.args))
	for i, a := range o.args {
		args[i] = strings.ReplaceAll(a, VolumePlaceholder, percent)
	}
	cmd := exec.CommandContext(ctx, o.path, args...)
	cmd.Stdin = bytes.NewReader(data)
	return cmd
}

type commandPlayback struct {
	output *CommandOutput
	mu     sync.Mutex
	volume float64
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *commandPlayback) run(ctx context.Context, data []byte, loop bool) {
	defer close(p.done)
	defer p.cancel()
	for {
		p.mu.Lock()
		volume := p.volume
		p.mu.Unlock()

		err := p.output.command(ctx, volume, data).Run()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.mu.Lock()
			p.err = &PlaybackError{Err: err}
			p.mu.Unlock()
			return
		}
		if !loop {
			return
		}
	}
}

func (p *commandPlayback) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = Clamp(v)
	p.mu.Unlock()
}

func (p *commandPlayback) Stop() { p.cancel() }

func (p *commandPlayback) Done() <-chan struct{} { return p.done }

func (p *commandPlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
