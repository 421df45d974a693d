package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nstree/errors"
)

func TestValidateName(t *testing.T) {
	valid := []string{
		"a", "Z", "0", "_", "-", ".", "..",
		"run1", "bar.dat", "my data", "tab\tsep", "x\n", "v\vtab", "A-b_c.d e",
	}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), "%q should be valid", name)
	}

	tests := []struct {
		name string
		want error
	}{
		{"", ErrEmptyName},
		{" leading", ErrInvalidName},
		{"\tleading", ErrInvalidName},
		{"a/b", ErrInvalidName},
		{"/", ErrInvalidName},
		{"ünïcode", ErrInvalidName},
		{"a b", ErrInvalidName},
		{"semi;colon", ErrInvalidName},
		{"star*", ErrInvalidName},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		require.Error(t, err, "%q should be invalid", tt.name)
		assert.True(t, errors.Is(err, tt.want), "%q: got %v", tt.name, err)
	}
}

func TestValidateName_HasHint(t *testing.T) {
	err := ValidateName("bad/name")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", nil},
		{"/a", []string{"a"}},
		{"/a/b c/d.dat", []string{"a", "b c", "d.dat"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := SplitPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitPath_Malformed(t *testing.T) {
	for _, p := range []string{"", "a", "a/b", "/a/", "//", "/a//b", "//a"} {
		_, err := SplitPath(p)
		require.Error(t, err, "%q", p)
		assert.True(t, errors.Is(err, ErrMalformedPath), "%q: %v", p, err)
		assert.False(t, errors.Is(err, ErrNotFound), "%q must not be NotFound", p)
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/a", JoinPath("/", "a"))
	assert.Equal(t, "/a/b", JoinPath("/a", "b"))

	// Joining then splitting round-trips.
	segments, err := SplitPath(JoinPath(JoinPath("/", "x y"), "z"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x y", "z"}, segments)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "ok", ErrorKind(nil))
	assert.Equal(t, "malformed_path", ErrorKind(errors.Wrap(ErrMalformedPath, "x")))
	assert.Equal(t, "empty_name", ErrorKind(ValidateName("")))
	assert.Equal(t, "invalid_name", ErrorKind(ValidateName(" x")))
	assert.Equal(t, "store_io", ErrorKind(errors.Mark(errors.New("disk full"), ErrStoreIO)))
	assert.Equal(t, "other", ErrorKind(errors.New("something else")))

	assert.True(t, IsValidationError(ValidateName("")))
	assert.False(t, IsValidationError(errors.Mark(errors.New("disk full"), ErrStoreIO)))
}
