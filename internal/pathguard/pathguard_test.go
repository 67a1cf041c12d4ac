package pathguard_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/pathguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var safeAlphabet = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "alice.wav", want: "alice.wav"},
		{raw: "my voice (1).wav", want: "myvoice1.wav"},
		{raw: "../../etc/passwd", want: "passwd"},
		{raw: "/abs/path/bob.mp3", want: "bob.mp3"},
		{raw: `C:\Users\carol\carol.wav`, want: "carol.wav"},
		{raw: "dir/", want: "dir"},
		{raw: "ünïcødé.wav", want: "ncd.wav"},
		{raw: "evil$(rm -rf).wav", want: "evilrm-rf.wav"},
		{raw: "", want: ""},
		{raw: "..", want: ""},
		{raw: ".", want: ""},
		{raw: "/", want: ""},
		{raw: "***", want: ""},
		{raw: "a/..", want: ""},
	}

	for _, testCase := range tests {
		t.Run(testCase.raw, func(t *testing.T) {
			t.Parallel()

			got := pathguard.SanitizeFilename(testCase.raw)
			assert.Equal(t, testCase.want, got)

			if got != "" {
				assert.Regexp(t, safeAlphabet, got)
			}
		})
	}
}

func TestHasExtension(t *testing.T) {
	t.Parallel()

	exts := []string{".wav", ".mp3"}

	assert.True(t, pathguard.HasExtension("a.wav", exts))
	assert.True(t, pathguard.HasExtension("a.WAV", exts))
	assert.True(t, pathguard.HasExtension("a.b.mp3", exts))
	assert.False(t, pathguard.HasExtension("a.txt", exts))
	assert.False(t, pathguard.HasExtension("wav", exts))
	assert.False(t, pathguard.HasExtension(".upload-123", exts))
}

func TestResolve_ExistingFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "out.wav"), "RIFF")

	resolved, err := pathguard.Resolve(root, "out.wav")
	require.NoError(t, err)

	canonicalRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(canonicalRoot, "out.wav"), resolved)
}

func TestResolve_TraversalIsForbidden(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	root := filepath.Join(parent, "scratch")
	require.NoError(t, os.Mkdir(root, 0o750))

	// A real file sits at the traversed location; it must still be refused.
	writeFile(t, filepath.Join(parent, "secret.wav"), "top secret")
	writeFile(t, filepath.Join(root, "secret.wav"), "inside")

	refs := []string{
		"../secret.wav",
		"..",
		".",
		"./secret.wav",
		"sub/secret.wav",
		filepath.Join(parent, "secret.wav"),
		"/etc/passwd",
		`..\secret.wav`,
		"secret.wav\x00.txt",
	}

	for _, ref := range refs {
		_, err := pathguard.Resolve(root, ref)
		require.Error(t, err, ref)
		assert.Equal(t, core.KindForbidden, core.KindOf(err), ref)
	}
}

func TestResolve_SymlinkEscapeIsForbidden(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	root := filepath.Join(parent, "scratch")
	require.NoError(t, os.Mkdir(root, 0o750))

	outside := filepath.Join(parent, "outside.wav")
	writeFile(t, outside, "outside")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link.wav")))

	_, err := pathguard.Resolve(root, "link.wav")
	require.Error(t, err)
	assert.Equal(t, core.KindForbidden, core.KindOf(err))
}

func TestResolve_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := pathguard.Resolve(t.TempDir(), "nope.wav")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestResolve_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := pathguard.Resolve(filepath.Join(t.TempDir(), "absent"), "x.wav")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestResolve_DirectoryIsNotFound(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested.wav"), 0o750))

	_, err := pathguard.Resolve(root, "nested.wav")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestResolve_EmptyReference(t *testing.T) {
	t.Parallel()

	_, err := pathguard.Resolve(t.TempDir(), "")
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
}

func TestWithin(t *testing.T) {
	t.Parallel()

	root := filepath.FromSlash("/srv/scratch")

	assert.True(t, pathguard.Within(root, filepath.FromSlash("/srv/scratch/a.wav")))
	assert.True(t, pathguard.Within(root, filepath.FromSlash("/srv/scratch/..a.wav")))
	assert.False(t, pathguard.Within(root, root))
	assert.False(t, pathguard.Within(root, filepath.FromSlash("/srv/scratch-other/a.wav")))
	assert.False(t, pathguard.Within(root, filepath.FromSlash("/srv/a.wav")))
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, pathguard.EnsureDir(dir))
	require.NoError(t, pathguard.EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
