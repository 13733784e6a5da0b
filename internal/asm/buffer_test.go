package asm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeBuffer_CursorAccounting(t *testing.T) {
	b, err := NewCodeBuffer(1 << 16)
	require.NoError(t, err)
	defer b.Unmap()

	require.Equal(t, b.Base(), b.Get())
	require.Equal(t, 1<<16, b.FreeSpace())

	b.Advance(100)
	require.Equal(t, b.Base()+100, b.Get())
	require.Equal(t, 1<<16-100, b.FreeSpace())
	require.Equal(t, 100, b.Cursor())

	b.Reset()
	require.Equal(t, b.Base(), b.Get())
}

func TestCodeBuffer_Contains(t *testing.T) {
	b, err := NewCodeBuffer(1 << 12)
	require.NoError(t, err)
	defer b.Unmap()

	require.True(t, b.Contains(b.Base()))
	require.True(t, b.Contains(b.Base()+(1<<12)-1))
	require.False(t, b.Contains(b.Base()+(1<<12)))
	require.False(t, b.Contains(b.Base()-1))
}

func TestCodeBuffer_WritableBracket(t *testing.T) {
	b, err := NewCodeBuffer(1 << 12)
	require.NoError(t, err)
	defer b.Unmap()

	require.NoError(t, b.WithWritable(func() error {
		s := b.Slice(b.Base(), 4)
		copy(s, []byte{1, 2, 3, 4})
		return nil
	}))
	require.True(t, b.Executable())
	require.Equal(t, []byte{1, 2, 3, 4}, b.Slice(b.Base(), 4))
}

func TestCodeBuffer_WritableBracketRestoresOnError(t *testing.T) {
	b, err := NewCodeBuffer(1 << 12)
	require.NoError(t, err)
	defer b.Unmap()

	sentinel := errors.New("emit failed")
	require.ErrorIs(t, b.WithWritable(func() error { return sentinel }), sentinel)
	// Protection must be back to read-execute even though the body failed.
	require.True(t, b.Executable())
}

func TestCodeBuffer_AdvancePastEndPanics(t *testing.T) {
	b, err := NewCodeBuffer(1 << 12)
	require.NoError(t, err)
	defer b.Unmap()

	require.Panics(t, func() { b.Advance(1<<12 + 1) })
}
