package effects

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
)

// Sound keys
const (
	KeyNotification = "notification"
	KeyTypewriter   = "typewriter"
	KeyMessageSent  = "messageSent"
)

const (
	typewriterFallbackFile   = "typewriter-robotic.mp3"
	notificationFallbackFile = "notification-ting.mp3"
)

// SoundFiles maps every known key to its asset file name.
var SoundFiles = map[string]string{
	KeyNotification: notificationFallbackFile,
	KeyTypewriter:   typewriterFallbackFile,
	KeyMessageSent:  "message-send.mp3",

	"typewriter-mystical": "typewriter-mystical.mp3",
	"typewriter-classic":  "typewriter-classic.mp3",
	"typewriter-robotic":  "typewriter-robotic.mp3",
	"typewriter-medieval": "typewriter-medieval.mp3",
	"typewriter-cosmic":   "typewriter-cosmic.mp3",
	"typewriter-magical":  "typewriter-magical.mp3",

	"bell-magical":   "bell-magical.mp3",
	"bell-victorian": "bell-victorian.mp3",
	"beep-digital":   "beep-digital.mp3",
	"bell-castle":    "bell-castle.mp3",
	"beep-alien":     "beep-alien.mp3",
	"chime-ethereal": "chime-ethereal.mp3",
}

// Registry 保存按键名索引的音效片段。
type Registry struct {
	mu    sync.RWMutex
	clips map[string]*audio.Clip
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clips: make(map[string]*audio.Clip)}
}

// Register stores clip under key, freeing any clip it replaces.
func (r *Registry) Register(key string, clip *audio.Clip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.clips[key]; ok && old != clip {
		old.Free()
	}
	r.clips[key] = clip
}

// Clip returns the clip registered under key.
func (r *Registry) Clip(key string) (*audio.Clip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clip, ok := r.clips[key]
	return clip, ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.clips))
	for key := range r.clips {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered clips.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clips)
}

// Clear frees and removes every clip.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, clip := range r.clips {
		clip.Free()
		delete(r.clips, key)
	}
}

// fallbackFile returns the shared asset used when key's own file is missing.
func fallbackFile(key string) string {
	prefix, _, found := strings.Cut(key, "-")
	if !found || key == "typewriter-robotic" {
		return ""
	}
	switch prefix {
	case "typewriter":
		return typewriterFallbackFile
	case "bell", "beep", "chime":
		return notificationFallbackFile
	}
	return ""
}

// LoadDir reads every file in SoundFiles from dir. A missing asset falls back
// to the shared typewriter or notification file; keys with no loadable file
// are skipped with a warning. Only an unreadable dir is an error.
func LoadDir(dir string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("sound directory: %w", err)
	}

	reg := NewRegistry()
	for key, file := range SoundFiles {
		data, err := readSound(dir, file)
		if err != nil {
			if fb := fallbackFile(key); fb != "" {
				data, err = readSound(dir, fb)
			}
		}
		if err != nil {
			logger.Warn("sound not loaded", zap.String("key", key), zap.String("file", file), zap.Error(err))
			continue
		}
		reg.Register(key, audio.NewClip(data, strings.TrimPrefix(filepath.Ext(file), ".")))
	}
	logger.Info("sound effects loaded", zap.Int("count", reg.Len()), zap.String("dir", dir))
	return reg, nil
}

func readSound(dir, file string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &fs.PathError{Op: "read", Path: file, Err: errors.New("empty file")}
	}
	return data, nil
}
