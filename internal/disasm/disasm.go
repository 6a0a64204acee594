// Package disasm is a small disassembler for the Thumb-1 (plus the one
// Thumb-2 long branch, BL) subset internal/thumb encodes. It exists to
// print mnemonics for tests and for the mimic CLI's disasm subcommand; it
// never executes code, so unlike a real decoder it has no registers,
// flags, or memory to update — just "bits in, mnemonic string out".
//
// Grounded on the top-level bitmask dispatch in the retrieved ARM
// Thumb-2 decoder (Gopher2600's decode32bitThumb2/thumb2* family): route
// on a handful of fixed high bits to a per-format decode function, same
// as that decoder's opcode&mask == pattern chain, just inverted — here
// each function builds a rendered instruction string instead of
// executing one.
package disasm

import (
	"encoding/binary"
	"fmt"

	"github.com/mimic/mimic/internal/errs"
)

// Instruction is one decoded instruction: Size is 2 for every Thumb-1
// encoding and 4 for the BL long branch.
type Instruction struct {
	Addr uint32
	Size uint8
	Text string
}

// Decode disassembles every instruction in code, whose first byte is at
// address base. A BL's two halfwords are fused into a single four-byte
// Instruction, matching how internal/thumb.Bl emits them.
func Decode(code []byte, base uint32) ([]Instruction, error) {
	var out []Instruction
	for i := 0; i+2 <= len(code); {
		word := binary.LittleEndian.Uint16(code[i:])
		addr := base + uint32(i)

		if isBLHi(word) && i+4 <= len(code) {
			lo := binary.LittleEndian.Uint16(code[i+2:])
			if isBLLo(lo) {
				out = append(out, Instruction{Addr: addr, Size: 4, Text: decodeBL(word, lo)})
				i += 4
				continue
			}
		}

		text, err := decode16(word)
		if err != nil {
			return out, err
		}
		out = append(out, Instruction{Addr: addr, Size: 2, Text: text})
		i += 2
	}
	return out, nil
}

func isBLHi(hi uint16) bool { return hi&0xF800 == 0xF000 }
func isBLLo(lo uint16) bool { return lo&0xD000 == 0xD000 }

// decodeBL recovers the signed byte displacement BL encoded, inverting
// internal/thumb.Bl's bit packing.
func decodeBL(hi, lo uint16) string {
	s := uint32(hi>>10) & 1
	imm10 := uint32(hi) & 0x3FF
	j1 := uint32(lo>>13) & 1
	j2 := uint32(lo>>11) & 1
	imm11 := uint32(lo) & 0x7FF
	i1 := (1 - (j1 ^ s)) & 1
	i2 := (1 - (j2 ^ s)) & 1

	imm32 := s<<24 | i1<<23 | i2<<22 | imm10<<12 | imm11<<1
	offset := signExtend(imm32, 25)
	return fmt.Sprintf("bl #%d", offset)
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func reg(n uint16) string { return fmt.Sprintf("r%d", n) }

func decode16(w uint16) (string, error) {
	switch {
	case w&0xF800 == 0x0000, w&0xF800 == 0x0800, w&0xF800 == 0x1000:
		return decodeShiftImm(w), nil
	case w&0xF800 == 0x1800:
		return decodeAddSub(w), nil
	case w&0xE000 == 0x2000:
		return decodeFmt3(w), nil
	case w&0xFC00 == 0x4000:
		return decodeFmt4(w), nil
	case w&0xFC00 == 0x4400:
		return decodeHiReg(w), nil
	case w&0xF800 == 0x4800:
		rd := (w >> 8) & 7
		imm8 := w & 0xFF
		return fmt.Sprintf("ldr %s, [pc, #%d]", reg(rd), imm8*4), nil
	case w&0xF000 == 0x5000:
		return decodeLoadStoreReg(w), nil
	case w&0xE000 == 0x6000, w&0xF000 == 0x8000:
		return decodeLoadStoreImm(w), nil
	case w&0xF000 == 0x9000:
		return decodeSPRel(w), nil
	case w&0xFF00 == 0xB000:
		return decodeSPOffset(w), nil
	case w&0xF600 == 0xB400:
		return decodePushPop(w), nil
	case w&0xFF00 == 0xDF00:
		return fmt.Sprintf("svc #%d", w&0xFF), nil
	case w&0xF000 == 0xD000:
		return decodeBcc(w), nil
	case w&0xF800 == 0xE000:
		return decodeB(w), nil
	default:
		return "", errs.New(errs.CORRUPT, "undecodable Thumb-1 halfword %#04x", w)
	}
}

func decodeShiftImm(w uint16) string {
	op := (w >> 11) & 0x3
	imm5 := (w >> 6) & 0x1F
	rm := (w >> 3) & 7
	rd := w & 7
	mnem := [...]string{"lsl", "lsr", "asr"}[op]
	return fmt.Sprintf("%s %s, %s, #%d", mnem, reg(rd), reg(rm), imm5)
}

func decodeAddSub(w uint16) string {
	immFlag := (w >> 10) & 1
	opFlag := (w >> 9) & 1
	rmOrImm := (w >> 6) & 7
	rn := (w >> 3) & 7
	rd := w & 7
	mnem := "add"
	if opFlag == 1 {
		mnem = "sub"
	}
	if immFlag == 1 {
		return fmt.Sprintf("%s %s, %s, #%d", mnem, reg(rd), reg(rn), rmOrImm)
	}
	return fmt.Sprintf("%s %s, %s, %s", mnem, reg(rd), reg(rn), reg(rmOrImm))
}

func decodeFmt3(w uint16) string {
	op := (w >> 11) & 0x3
	rdn := (w >> 8) & 7
	imm8 := w & 0xFF
	mnem := [...]string{"mov", "cmp", "add", "sub"}[op]
	return fmt.Sprintf("%s %s, #%d", mnem, reg(rdn), imm8)
}

var fmt4Mnemonics = map[uint16]string{
	0b0000: "and", 0b0001: "eor", 0b0010: "lsl", 0b0011: "lsr",
	0b0100: "asr", 0b0101: "adc", 0b0110: "sbc", 0b0111: "ror",
	0b1000: "tst", 0b1001: "neg", 0b1010: "cmp", 0b1011: "cmn",
	0b1100: "orr", 0b1101: "mul", 0b1110: "bic", 0b1111: "mvn",
}

func decodeFmt4(w uint16) string {
	op := (w >> 6) & 0xF
	rm := (w >> 3) & 7
	rdn := w & 7
	mnem, ok := fmt4Mnemonics[op]
	if !ok {
		mnem = "?"
	}
	return fmt.Sprintf("%s %s, %s", mnem, reg(rdn), reg(rm))
}

func decodeHiReg(w uint16) string {
	op := (w >> 8) & 0x3
	h1 := (w >> 7) & 1
	h2 := (w >> 6) & 1
	rs := uint16(h2<<3) | (w>>3)&7
	rd := uint16(h1<<3) | w&7
	switch op {
	case 0b00:
		return fmt.Sprintf("add %s, %s", reg(rd), reg(rs))
	case 0b01:
		return fmt.Sprintf("cmp %s, %s", reg(rd), reg(rs))
	case 0b10:
		return fmt.Sprintf("mov %s, %s", reg(rd), reg(rs))
	default:
		if h1 == 1 {
			return fmt.Sprintf("blx %s", reg(rs))
		}
		return fmt.Sprintf("bx %s", reg(rs))
	}
}

func decodeLoadStoreReg(w uint16) string {
	l := (w >> 11) & 1
	b := (w >> 10) & 1
	rm := (w >> 6) & 7
	rn := (w >> 3) & 7
	rt := w & 7
	mnem := "str"
	if l == 1 {
		mnem = "ldr"
	}
	if b == 1 {
		mnem += "b"
	}
	return fmt.Sprintf("%s %s, [%s, %s]", mnem, reg(rt), reg(rn), reg(rm))
}

func decodeLoadStoreImm(w uint16) string {
	rn := (w >> 3) & 7
	rt := w & 7
	imm5 := (w >> 6) & 0x1F

	switch {
	case w&0xF000 == 0x6000:
		mnem, scale := "str", uint16(4)
		if w&0x0800 != 0 {
			mnem = "ldr"
		}
		return fmt.Sprintf("%s %s, [%s, #%d]", mnem, reg(rt), reg(rn), imm5*scale)
	case w&0xF800 == 0x7000, w&0xF800 == 0x7800:
		mnem := "strb"
		if w&0x0800 != 0 {
			mnem = "ldrb"
		}
		return fmt.Sprintf("%s %s, [%s, #%d]", mnem, reg(rt), reg(rn), imm5)
	default: // halfword, 0x8000 range
		mnem := "strh"
		if w&0x0800 != 0 {
			mnem = "ldrh"
		}
		return fmt.Sprintf("%s %s, [%s, #%d]", mnem, reg(rt), reg(rn), imm5*2)
	}
}

func decodeSPRel(w uint16) string {
	l := (w >> 11) & 1
	rt := (w >> 8) & 7
	imm8 := w & 0xFF
	mnem := "str"
	if l == 1 {
		mnem = "ldr"
	}
	return fmt.Sprintf("%s %s, [sp, #%d]", mnem, reg(rt), imm8*4)
}

func decodeSPOffset(w uint16) string {
	s := (w >> 7) & 1
	imm7 := w & 0x7F
	mnem := "add"
	if s == 1 {
		mnem = "sub"
	}
	return fmt.Sprintf("%s sp, #%d", mnem, imm7*4)
}

func decodePushPop(w uint16) string {
	pop := (w >> 11) & 1
	extra := (w >> 8) & 1
	regs := w & 0xFF
	mnem := "push"
	extraReg := "lr"
	if pop == 1 {
		mnem = "pop"
		extraReg = "pc"
	}
	list := regList(regs)
	if extra == 1 {
		list = append(list, extraReg)
	}
	return fmt.Sprintf("%s {%s}", mnem, joinRegs(list))
}

func regList(mask uint16) []string {
	var out []string
	for i := 0; i < 8; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, reg(uint16(i)))
		}
	}
	return out
}

func joinRegs(regs []string) string {
	out := ""
	for i, r := range regs {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le"}

func decodeBcc(w uint16) string {
	cond := (w >> 8) & 0xF
	imm8 := w & 0xFF
	offset := signExtend(uint32(imm8), 8) * 2
	name := "al"
	if int(cond) < len(condNames) {
		name = condNames[cond]
	}
	return fmt.Sprintf("b%s #%d", name, offset)
}

func decodeB(w uint16) string {
	imm11 := w & 0x7FF
	offset := signExtend(uint32(imm11), 11) * 2
	return fmt.Sprintf("b #%d", offset)
}
