package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestHashReader(t *testing.T) {
	sum, err := DefaultHasher().HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
}

func TestHashReaderError(t *testing.T) {
	_, err := DefaultHasher().HashReader(failingReader{})
	assert.Error(t, err)
}
