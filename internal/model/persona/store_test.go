package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIsUsable(t *testing.T) {
	seeds := Seed()
	require.Len(t, seeds, 6)

	ids := make(map[string]bool)
	for _, p := range seeds {
		assert.NotEmpty(t, p.Prompt, p.ID)
		assert.NotEmpty(t, p.Voice.ID, p.ID)
		assert.False(t, ids[p.ID], "duplicate id %s", p.ID)
		ids[p.ID] = true
	}
}

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	got, ok := store.FindByID("sherlock")
	require.True(t, ok)
	assert.Equal(t, "Sherlock Holmes", got.Name)

	_, ok = store.FindByID("missing")
	assert.False(t, ok)
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	again, _ := store.FindByID(list[0].ID)
	assert.NotEqual(t, "changed", again.Name)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	content := `personas:
  - id: " bard "
    name: Bard
    prompt: You sing.
    voice:
      id: voice-1
      settings:
        stability: 0.4
        similarityBoost: 0.7
        style: 0.2
        useSpeakerBoost: true
    soundEffects:
      notification: bell-magical
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	personas, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "bard", personas[0].ID)
	assert.Equal(t, 0.7, personas[0].Voice.Settings.SimilarityBoost)
	assert.True(t, personas[0].Voice.Settings.UseSpeakerBoost)
	assert.Equal(t, "bell-magical", personas[0].SoundEffects.Notification)
}

func TestParseRejectsInvalidCatalog(t *testing.T) {
	_, err := Parse([]byte("personas: []"))
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	_, err = Parse([]byte("personas:\n  - id: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("personas:\n  - {id: a, name: A}\n  - {id: a, name: B}\n"))
	assert.Error(t, err)
}
