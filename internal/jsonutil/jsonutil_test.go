package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCompactPretty(t *testing.T) {
	SetColor(false)
	v := struct {
		Pieces   int
		Complete bool
		Name     string
	}{
		Pieces:   4,
		Complete: true,
		Name:     "file.bin",
	}
	b, err := MarshalCompactPretty(v)
	require.NoError(t, err)
	assert.Equal(t, "Complete: true\nName: \"file.bin\"\nPieces: 4\n", string(b))
}
