//go:build amd64

package dynarec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamcast-go/sh4jit/internal/asm"

	amd64 "github.com/dreamcast-go/sh4jit/internal/asm/amd64"
)

func TestUnwindInfo_Descriptor(t *testing.T) {
	buf, err := asm.NewCodeBuffer(1 << 12)
	require.NoError(t, err)
	defer buf.Unmap()

	var written []byte
	require.NoError(t, buf.WithWritable(func() error {
		a := amd64.NewAssembler(buf.Get(), buf.FreeSpace())

		var u unwindInfo
		u.Start(a.Addr())
		a.Push(amd64.RegBX)
		u.PushReg(a.Offset(), amd64.RegBX)
		a.Push(amd64.RegBP)
		u.PushReg(a.Offset(), amd64.RegBP)
		a.SubQConst(amd64.RegSP, 0x28)
		u.AllocStack(a.Offset(), 0x28)
		u.EndProlog(a.Offset())
		prologEnd := a.Offset()

		a.Ret()
		body := a.Offset()
		size := u.End(a)
		require.LessOrEqual(t, size, reservedUnwindTail)

		desc := buf.Slice(buf.Get()+uintptr(body), size)
		// Leading padding up to 4-byte alignment, then version byte.
		pad := 0
		for desc[pad] == 0 && (body+pad)%4 != 0 {
			pad++
		}
		desc = desc[pad:]
		require.Equal(t, byte(1), desc[0], "descriptor version")
		require.Equal(t, byte(prologEnd), desc[1], "prologue size")
		require.Equal(t, byte(3), desc[2], "three unwind codes")
		require.Equal(t, byte(0), desc[3], "no frame register")

		// Codes are stored in reverse code order: alloc, then the pushes.
		require.Equal(t, byte(2)|byte(0x28/8-1)<<4, desc[5], "small stack alloc")
		require.Equal(t, byte(0)|byte(amd64.RegBP)<<4, desc[7], "push rbp")
		require.Equal(t, byte(0)|byte(amd64.RegBX)<<4, desc[9], "push rbx")

		written = append(written, desc...)
		return nil
	}))
	require.NotEmpty(t, written)
}

func TestUnwindInfo_ClearDropsState(t *testing.T) {
	var u unwindInfo
	u.Start(0x1000)
	u.PushReg(1, amd64.RegBX)
	u.AllocStack(5, 8)
	u.EndProlog(5)
	u.Clear()
	require.Zero(t, u.start)
	require.Zero(t, u.prologSize)
	require.Empty(t, u.codes)
}