package sh4jit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamcast-go/sh4jit/internal/dynarec"
	"github.com/dreamcast-go/sh4jit/sh4"
)

func TestNew_RegistersCurrentInstance(t *testing.T) {
	d := New(Config{})
	require.Same(t, d, dynarec.Current)
}

func TestInit_RejectsNilCollaborators(t *testing.T) {
	d := New(Config{})
	require.Error(t, d.Init(nil, nil, Hooks{}))

	buf, err := NewCodeBuffer(1 << 16)
	require.NoError(t, err)
	defer buf.Unmap()
	require.Error(t, d.Init(nil, buf, Hooks{}))
	require.NoError(t, d.Init(&sh4.Context{}, buf, Hooks{}))
}
