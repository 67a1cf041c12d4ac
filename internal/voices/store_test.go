package voices_test

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/voices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	safeAlphabet = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	wavHeader    = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00")
)

func newStore(t *testing.T, opts voices.Options) (*voices.Store, string) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "voices-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	root := filepath.Join(t.TempDir(), "voices")

	store, err := voices.New(root, opts, log)
	require.NoError(t, err)

	return store, root
}

func ids(refs []core.VoiceReference) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.ID)
	}

	return out
}

func TestNew_EmptyRoot(t *testing.T) {
	t.Parallel()

	_, err := voices.New("", voices.Options{}, nil)
	require.ErrorIs(t, err, voices.ErrNoRoot)
}

func TestList_EmptyStore(t *testing.T) {
	t.Parallel()

	store, root := newStore(t, voices.Options{})

	refs, err := store.List()
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "root should be created on first use")
}

func TestUpload_SanitizesName(t *testing.T) {
	t.Parallel()

	store, root := newStore(t, voices.Options{})

	ref, err := store.Upload("../../My Voice (take 2)!.wav", wavHeader)
	require.NoError(t, err)

	assert.Equal(t, "MyVoicetake2.wav", ref.ID)
	assert.Regexp(t, safeAlphabet, ref.ID)
	assert.Equal(t, filepath.Join(root, ref.ID), ref.Path)

	data, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, wavHeader, data)

	refs, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"MyVoicetake2.wav"}, ids(refs))
}

func TestUpload_Rejections(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{})

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{name: "empty after sanitization", filename: "%%%", data: wavHeader},
		{name: "dot dot", filename: "..", data: wavHeader},
		{name: "unsupported extension", filename: "notes.txt", data: wavHeader},
		{name: "no extension", filename: "voice", data: wavHeader},
		{name: "empty content", filename: "a.wav", data: nil},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := store.Upload(testCase.filename, testCase.data)
			require.Error(t, err)
			assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
		})
	}
}

func TestUpload_VerifyContent(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{VerifyContent: true})

	_, err := store.Upload("fake.wav", []byte("definitely not audio"))
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))

	ref, err := store.Upload("real.wav", wavHeader)
	require.NoError(t, err)
	assert.Equal(t, "real.wav", ref.ID)
}

func TestUpload_OverwritesSameName(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{})

	first, err := store.Upload("dup?.wav", []byte("first"))
	require.NoError(t, err)

	second, err := store.Upload("dup.wav", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	data, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	refs, err := store.List()
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestUpload_Concurrent(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{})

	var waitGroup sync.WaitGroup

	for range 8 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, err := store.Upload("shared.wav", wavHeader)
			assert.NoError(t, err)
		}()
	}

	waitGroup.Wait()

	refs, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"shared.wav"}, ids(refs))
}

func TestList_FiltersNonAudio(t *testing.T) {
	t.Parallel()

	store, root := newStore(t, voices.Options{})

	_, err := store.Upload("a.wav", wavHeader)
	require.NoError(t, err)

	_, err = store.Upload("b.MP3", []byte("ID3"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".upload-123"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.wav"), 0o750))

	refs, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.wav", "b.MP3"}, ids(refs))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	store, root := newStore(t, voices.Options{})

	uploaded, err := store.Upload("alice.wav", wavHeader)
	require.NoError(t, err)

	ref, err := store.Lookup(uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice.wav", ref.ID)
	assert.FileExists(t, ref.Path)

	_, err = store.Lookup("bob.wav")
	assert.Equal(t, core.KindUnknownVoice, core.KindOf(err))

	_, err = store.Lookup("")
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))

	_, err = store.Lookup("../voices/alice.wav")
	assert.Equal(t, core.KindForbidden, core.KindOf(err))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	_, err = store.Lookup("notes.txt")
	assert.Equal(t, core.KindUnknownVoice, core.KindOf(err))
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{})

	ref, err := store.Upload("gone.wav", wavHeader)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ref.ID))
	assert.NoFileExists(t, ref.Path)

	err = store.Delete(ref.ID)
	assert.Equal(t, core.KindUnknownVoice, core.KindOf(err))
}

func TestUpload_StripsLeadingDots(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{})

	ref, err := store.Upload(".hidden.wav", wavHeader)
	require.NoError(t, err)
	assert.Equal(t, "hidden.wav", ref.ID)

	refs, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"hidden.wav"}, ids(refs))
}

func TestStage(t *testing.T) {
	t.Parallel()

	store, root := newStore(t, voices.Options{})

	staged, release, err := store.Stage("../Guest Speaker.MP3", []byte("ID3sample"))
	require.NoError(t, err)

	assert.Equal(t, root, filepath.Dir(staged.Path))
	assert.Regexp(t, `^\.sample-.*\.mp3$`, staged.ID)

	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3sample", string(data))

	refs, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, refs, "staged samples are not voices")

	_, err = store.Lookup(staged.ID)
	assert.Equal(t, core.KindUnknownVoice, core.KindOf(err))

	release()
	assert.NoFileExists(t, staged.Path)

	release()
}

func TestStage_Rejections(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, voices.Options{VerifyContent: true})

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{name: "unsupported extension", filename: "sample.txt", data: wavHeader},
		{name: "empty content", filename: "sample.wav", data: nil},
		{name: "not audio", filename: "sample.wav", data: []byte("plain text")},
		{name: "empty name", filename: "///", data: wavHeader},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, release, err := store.Stage(testCase.filename, testCase.data)
			require.Error(t, err)
			assert.Nil(t, release)
			assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
		})
	}
}
