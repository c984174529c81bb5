package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

// Backend produces encoded audio for text.
type Backend interface {
	Synthesize(ctx context.Context, text string, voice persona.Voice) ([]byte, error)
}

// CacheKey 由声音 ID、文本和调音参数的规范 JSON 计算得出。
func CacheKey(text string, voice persona.Voice) string {
	settings, _ := json.Marshal(voice.Settings)
	h := sha256.New()
	h.Write([]byte(voice.ID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write(settings)
	return hex.EncodeToString(h.Sum(nil))
}

// Session is one synthesized clip handed to a player. Release is idempotent.
type Session struct {
	Text  string
	Voice persona.Voice
	Key   string
	Clip  *audio.Clip
	Hit   bool

	synth *Synthesizer
	entry *entry
	once  sync.Once
}

// Release 释放会话持有的缓存引用，重复调用无副作用。
func (s *Session) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.synth.unref(s.Key, s.entry) })
}

type entry struct {
	clip *audio.Clip
	refs int
}

// Options tune a Synthesizer.
type Options struct {
	// Timeout bounds one backend request. Zero means 30s.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Synthesizer memoizes synthesized clips by CacheKey.
//
// Entries are reference counted: each Session holds one reference and the
// entry is evicted, with its bytes freed, when the last one is released.
type Synthesizer struct {
	backend Backend
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[string]*entry
	group singleflight.Group
}

// NewSynthesizer wraps backend with a cache.
func NewSynthesizer(backend Backend, opts Options) *Synthesizer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Synthesizer{
		backend: backend,
		timeout: opts.Timeout,
		logger:  opts.Logger.Named("speech"),
		metrics: opts.Metrics,
		cache:   make(map[string]*entry),
	}
}

// Synthesize returns a Session for text spoken in voice. Failures are always
// *SynthesisError. Cancelling ctx abandons the wait; the backend request
// itself may be shared with other callers and runs to completion or timeout.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice persona.Voice) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Kind: KindEmpty, Err: errors.New("text is empty")}
	}

	key := CacheKey(text, voice)
	if sess := s.acquire(key, text, voice, nil); sess != nil {
		s.metrics.SynthesisLookup("hit")
		s.logger.Debug("speech cache hit", zap.String("key", key[:12]))
		return sess, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		data, err := s.backend.Synthesize(reqCtx, text, voice)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, &SynthesisError{Kind: KindEmpty, Err: errors.New("backend returned no audio")}
		}
		s.metrics.AddSynthesisCharacters(len([]rune(text)))
		return audio.NewClip(data, "mp3"), nil
	})

	select {
	case <-ctx.Done():
		return nil, &SynthesisError{Kind: KindCanceled, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			s.metrics.SynthesisLookup("error")
			return nil, asSynthesisError(res.Err)
		}
		s.metrics.SynthesisLookup("miss")
		sess := s.acquire(key, text, voice, res.Val.(*audio.Clip))
		if sess == nil {
			return nil, &SynthesisError{Kind: KindReleased, Err: errors.New("clip released before use")}
		}
		return sess, nil
	}
}

// acquire takes a reference on the cached entry for key. With a non-nil
// clip a missing entry is created from it; otherwise a miss returns nil.
func (s *Synthesizer) acquire(key, text string, voice persona.Voice, clip *audio.Clip) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache[key]
	hit := ok
	if !ok {
		if clip == nil || clip.Freed() {
			return nil
		}
		e = &entry{clip: clip}
		s.cache[key] = e
		s.metrics.SetCacheEntries(len(s.cache))
	}
	e.refs++
	return &Session{Text: text, Voice: voice, Key: key, Clip: e.clip, Hit: hit, synth: s, entry: e}
}

func (s *Synthesizer) unref(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cache[key]
	if !ok || current != e {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(s.cache, key)
	e.clip.Free()
	s.metrics.SetCacheEntries(len(s.cache))
}

// Release evicts the entry for key regardless of outstanding sessions.
// Unknown keys are ignored.
func (s *Synthesizer) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache[key]; ok {
		delete(s.cache, key)
		e.clip.Free()
		s.metrics.SetCacheEntries(len(s.cache))
	}
}

// ReleaseAll empties the cache, freeing every clip.
func (s *Synthesizer) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.cache {
		e.clip.Free()
		delete(s.cache, key)
	}
	s.metrics.SetCacheEntries(0)
	s.logger.Debug("speech cache cleared")
}

// Len returns the number of live cache entries.
func (s *Synthesizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// String is used in logs.
func (s *Session) String() string {
	return fmt.Sprintf("speech session %s (%q)", s.Key[:12], s.Text)
}
