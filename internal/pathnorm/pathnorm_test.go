package pathnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePOSIX(t *testing.T) {
	cases := []struct {
		in       string
		wantNorm string
		wantBase string
		wantAbs  bool
	}{
		{"/a//b/c/", "/a/b/c", "c", true},
		{"relative/./path", "relative/./path", "path", false},
		{"/", "/", "", true},
		{"//", "/", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeFor(tc.in, false)
		require.NoError(t, err)
		assert.Equal(t, tc.wantNorm, got.Normalized, tc.in)
		assert.Equal(t, tc.wantBase, got.Basename, tc.in)
		assert.Equal(t, tc.wantAbs, got.IsAbsolute, tc.in)
	}
}

func TestNormalizeWindows(t *testing.T) {
	got, err := NormalizeFor(`C:\Users\Bob\file.TXT`, true)
	require.NoError(t, err)
	assert.Equal(t, "/c/users/bob/file.txt", got.Normalized)
	assert.Equal(t, "file.txt", got.Basename)
	assert.True(t, got.IsAbsolute)

	got, err = NormalizeFor(`\\server\share\dir`, true)
	require.NoError(t, err)
	assert.Equal(t, "/unc/server/share/dir", got.Normalized)
}

func TestNormalizeErrors(t *testing.T) {
	_, err := NormalizeFor("", false)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = NormalizeFor("a\x00b", false)
	assert.ErrorIs(t, err, ErrNull)
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{"/a//b/../c/", "relative//x/y/"}
	for _, in := range inputs {
		first, err := NormalizeFor(in, false)
		require.NoError(t, err)
		second, err := NormalizeFor(first.Normalized, false)
		require.NoError(t, err)
		assert.Equal(t, first.Normalized, second.Normalized)
	}
}

func TestBasenameCmp(t *testing.T) {
	assert.True(t, BasenameCmp("Foo.txt", "foo.txt", true))
	assert.False(t, BasenameCmp("Foo.txt", "foo.txt", false))
	assert.True(t, BasenameHasPrefix("Foo.txt", "foo", true))
	assert.False(t, BasenameHasPrefix("Foo.txt", "foo", false))
}
