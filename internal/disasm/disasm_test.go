package disasm

import (
	"encoding/binary"
	"testing"

	"github.com/mimic/mimic/internal/thumb"
	"github.com/stretchr/testify/require"
)

func encode16(t *testing.T, w uint16) []byte {
	t.Helper()
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, w)
	return buf
}

func TestDecodeMovImm8(t *testing.T) {
	w, err := thumb.MovImm8(thumb.R3, 42)
	require.NoError(t, err)

	insns, err := Decode(encode16(t, w), 0)
	require.NoError(t, err)
	require.Len(t, insns, 1)
	require.Equal(t, "mov r3, #42", insns[0].Text)
	require.EqualValues(t, 2, insns[0].Size)
}

func TestDecodeAddRegAndImm3(t *testing.T) {
	regW, err := thumb.AddReg(thumb.R0, thumb.R1, thumb.R2)
	require.NoError(t, err)
	immW, err := thumb.AddImm3(thumb.R0, thumb.R1, 5)
	require.NoError(t, err)

	buf := append(encode16(t, regW), encode16(t, immW)...)
	insns, err := Decode(buf, 0)
	require.NoError(t, err)
	require.Len(t, insns, 2)
	require.Equal(t, "add r0, r1, r2", insns[0].Text)
	require.Equal(t, "add r0, r1, #5", insns[1].Text)
}

func TestDecodeFmt4Mul(t *testing.T) {
	w, err := thumb.Mul(thumb.R2, thumb.R5)
	require.NoError(t, err)

	insns, err := Decode(encode16(t, w), 0)
	require.NoError(t, err)
	require.Equal(t, "mul r2, r5", insns[0].Text)
}

func TestDecodePushPop(t *testing.T) {
	push := thumb.Push(0b00000111, true)
	pop := thumb.Pop(0b00000111, true)

	buf := append(encode16(t, push), encode16(t, pop)...)
	insns, err := Decode(buf, 0)
	require.NoError(t, err)
	require.Len(t, insns, 2)
	require.Equal(t, "push {r0, r1, r2, lr}", insns[0].Text)
	require.Equal(t, "pop {r0, r1, r2, pc}", insns[1].Text)
}

func TestDecodeBAndBcc(t *testing.T) {
	b, err := thumb.B(10)
	require.NoError(t, err)
	bcc, err := thumb.Bcc(thumb.CondEQ, -8)
	require.NoError(t, err)

	buf := append(encode16(t, b), encode16(t, bcc)...)
	insns, err := Decode(buf, 0x1000)
	require.NoError(t, err)
	require.Len(t, insns, 2)
	require.Equal(t, "b #10", insns[0].Text)
	require.Equal(t, "beq #-8", insns[1].Text)
	require.EqualValues(t, 0x1000, insns[0].Addr)
	require.EqualValues(t, 0x1002, insns[1].Addr)
}

func TestDecodeSvcDistinctFromBcc(t *testing.T) {
	svc := thumb.Svc(7)

	insns, err := Decode(encode16(t, svc), 0)
	require.NoError(t, err)
	require.Equal(t, "svc #7", insns[0].Text)
}

func TestDecodeBlFusesTwoHalfwords(t *testing.T) {
	hi, lo, err := thumb.Bl(100)
	require.NoError(t, err)
	buf := append(encode16(t, hi), encode16(t, lo)...)

	insns, err := Decode(buf, 0x2000)
	require.NoError(t, err)
	require.Len(t, insns, 1)
	require.EqualValues(t, 4, insns[0].Size)
	require.Equal(t, "bl #100", insns[0].Text)
}

func TestDecodeRejectsGarbageHalfword(t *testing.T) {
	_, err := Decode(encode16(t, 0xFFFF), 0)
	require.Error(t, err)
}
