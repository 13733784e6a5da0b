//go:build darwin || linux || freebsd

package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapCodeSegment(t *testing.T) {
	b, err := MmapCodeSegment(4096)
	require.NoError(t, err)
	defer func() { require.NoError(t, MunmapCodeSegment(b)) }()

	// Freshly mapped pages are writable.
	b[0] = 0xc3
	require.Equal(t, byte(0xc3), b[0])

	// Flip to executable and back; contents survive both transitions.
	require.NoError(t, MprotectRX(b))
	require.Equal(t, byte(0xc3), b[0])
	require.NoError(t, MprotectRW(b))
	b[1] = 0x90
	require.Equal(t, []byte{0xc3, 0x90}, b[:2])
}

func TestMmapCodeSegment_ZeroLengthPanics(t *testing.T) {
	require.Panics(t, func() { _, _ = MmapCodeSegment(0) })
	require.Panics(t, func() { _ = MunmapCodeSegment(nil) })
}
