package thumb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMovImm8MatchesKnownEncoding(t *testing.T) {
	enc, err := MovImm8(R0, 42)
	require.NoError(t, err)
	require.EqualValues(t, 0x202A, enc)
}

func TestPushR4ToR7WithLRMatchesKnownEncoding(t *testing.T) {
	enc := Push(0xF0, true)
	require.EqualValues(t, 0xB5F0, enc)
}

func TestPopR4ToR7WithPCMatchesKnownEncoding(t *testing.T) {
	enc := Pop(0xF0, true)
	require.EqualValues(t, 0xBDF0, enc)
}

// TestBlEncodingMatchesSpecExample reproduces spec.md section 8 scenario
// 5: a BL call site whose target is 0x100 bytes ahead of the
// instruction, patched with offset = 0x200 - 0x100 - 4 = 0xFC, expecting
// hi = 0xF000, lo = 0xF87E.
func TestBlEncodingMatchesSpecExample(t *testing.T) {
	hi, lo, err := Bl(0xFC)
	require.NoError(t, err)
	require.EqualValues(t, 0xF000, hi)
	require.EqualValues(t, 0xF87E, lo)
}

func TestBlEncodingZeroOffsetAtPlusFour(t *testing.T) {
	// A BL target exactly +4 from its instruction encodes offset == 0
	// (spec.md section 8 boundary behavior).
	hi, lo, err := Bl(0)
	require.NoError(t, err)
	require.EqualValues(t, 0xF000, hi)
	require.EqualValues(t, 0xF800, lo)
}

func TestBlRejectsOddOffset(t *testing.T) {
	_, _, err := Bl(1)
	require.Error(t, err)
}

func TestRegisterEncodersRejectOutOfRangeRegister(t *testing.T) {
	_, err := MovImm8(Reg(8), 0)
	require.Error(t, err)
}

func TestSvcEncodesImmediateInLowByte(t *testing.T) {
	enc := Svc(7)
	require.EqualValues(t, 0xDF07, enc)
}

func TestBEncodesForwardOffset(t *testing.T) {
	enc, err := B(10)
	require.NoError(t, err)
	require.EqualValues(t, 0xE000|5, enc)
}

func TestBRejectsOutOfRangeOffset(t *testing.T) {
	_, err := B(5000)
	require.Error(t, err)
}

func TestBccEncodesConditionAndOffset(t *testing.T) {
	enc, err := Bcc(CondEQ, -4)
	require.NoError(t, err)
	require.EqualValues(t, 0xD000|0xFE, enc)
}

func TestLdrPCRelMatchesKnownEncoding(t *testing.T) {
	enc, err := LdrPCRel(R0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0x4800, enc)

	enc, err = LdrPCRel(R2, 5)
	require.NoError(t, err)
	require.EqualValues(t, 0x4A05, enc)
}

func TestAddSubSPImm7(t *testing.T) {
	enc, err := SubSPImm7(10)
	require.NoError(t, err)
	require.EqualValues(t, 0xB08A, enc)

	enc, err = AddSPImm7(10)
	require.NoError(t, err)
	require.EqualValues(t, 0xB00A, enc)
}
