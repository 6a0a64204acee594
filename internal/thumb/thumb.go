// Package thumb implements the 16-bit ARM Thumb-1 instruction encoders
// (plus the one required Thumb-2 32-bit instruction, BL) that
// internal/codegen drives to emit a function's machine code, per
// spec.md section 4.6. Each encoder is grounded on the teacher's
// arm64_instructions.go: one function per mnemonic, validating operand
// ranges and packing them into the instruction word by shift-and-mask,
// returning the encoded halfword(s) rather than writing through a
// shared output handle, so internal/codegen controls buffering and
// branch fix-up itself.
package thumb

import "github.com/mimic/mimic/internal/errs"

// Reg names the eight low registers codegen allocates from (spec.md
// section 4.6's register allocation model never spills into r8-r15).
type Reg uint8

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
)

// Cond enumerates the ARM condition codes used by Bcc.
type Cond uint8

const (
	CondEQ Cond = 0x0
	CondNE Cond = 0x1
	CondCS Cond = 0x2
	CondCC Cond = 0x3
	CondMI Cond = 0x4
	CondPL Cond = 0x5
	CondVS Cond = 0x6
	CondVC Cond = 0x7
	CondHI Cond = 0x8
	CondLS Cond = 0x9
	CondGE Cond = 0xA
	CondLT Cond = 0xB
	CondGT Cond = 0xC
	CondLE Cond = 0xD
	CondAL Cond = 0xE
)

func checkReg(r Reg) error {
	if r > R7 {
		return errs.New(errs.INVAL, "register r%d out of the r0-r7 range", r)
	}
	return nil
}

func checkImm(name string, v, max uint32) error {
	if v > max {
		return errs.New(errs.INVAL, "%s immediate %d exceeds max %d", name, v, max)
	}
	return nil
}

// --- Format 1: shift by immediate ---

func shiftImm(op uint16, rd, rm Reg, imm5 uint8) (uint16, error) {
	if err := checkReg(rd); err != nil {
		return 0, err
	}
	if err := checkReg(rm); err != nil {
		return 0, err
	}
	if err := checkImm("shift", uint32(imm5), 31); err != nil {
		return 0, err
	}
	return op<<11 | uint16(imm5)<<6 | uint16(rm)<<3 | uint16(rd), nil
}

// LslImm encodes LSL Rd, Rm, #imm5.
func LslImm(rd, rm Reg, imm5 uint8) (uint16, error) { return shiftImm(0b00000, rd, rm, imm5) }

// LsrImm encodes LSR Rd, Rm, #imm5.
func LsrImm(rd, rm Reg, imm5 uint8) (uint16, error) { return shiftImm(0b00001, rd, rm, imm5) }

// AsrImm encodes ASR Rd, Rm, #imm5.
func AsrImm(rd, rm Reg, imm5 uint8) (uint16, error) { return shiftImm(0b00010, rd, rm, imm5) }

// --- Format 2: add/subtract register or 3-bit immediate ---

func addSubFmt2(immFlag, opFlag uint16, rd, rn Reg, rmOrImm uint8) (uint16, error) {
	if err := checkReg(rd); err != nil {
		return 0, err
	}
	if err := checkReg(rn); err != nil {
		return 0, err
	}
	return 0b00011<<11 | immFlag<<10 | opFlag<<9 | uint16(rmOrImm)<<6 | uint16(rn)<<3 | uint16(rd), nil
}

// AddReg encodes ADD Rd, Rn, Rm.
func AddReg(rd, rn, rm Reg) (uint16, error) {
	if err := checkReg(rm); err != nil {
		return 0, err
	}
	return addSubFmt2(0, 0, rd, rn, uint8(rm))
}

// SubReg encodes SUB Rd, Rn, Rm.
func SubReg(rd, rn, rm Reg) (uint16, error) {
	if err := checkReg(rm); err != nil {
		return 0, err
	}
	return addSubFmt2(0, 1, rd, rn, uint8(rm))
}

// AddImm3 encodes ADD Rd, Rn, #imm3.
func AddImm3(rd, rn Reg, imm3 uint8) (uint16, error) {
	if err := checkImm("imm3", uint32(imm3), 7); err != nil {
		return 0, err
	}
	return addSubFmt2(1, 0, rd, rn, imm3)
}

// SubImm3 encodes SUB Rd, Rn, #imm3.
func SubImm3(rd, rn Reg, imm3 uint8) (uint16, error) {
	if err := checkImm("imm3", uint32(imm3), 7); err != nil {
		return 0, err
	}
	return addSubFmt2(1, 1, rd, rn, imm3)
}

// --- Format 3: move/compare/add/subtract 8-bit immediate ---

func fmt3(op uint16, rdn Reg, imm8 uint8) (uint16, error) {
	if err := checkReg(rdn); err != nil {
		return 0, err
	}
	return 0b001<<13 | op<<11 | uint16(rdn)<<8 | uint16(imm8), nil
}

// MovImm8 encodes MOV Rd, #imm8.
func MovImm8(rd Reg, imm8 uint8) (uint16, error) { return fmt3(0b00, rd, imm8) }

// CmpImm8 encodes CMP Rn, #imm8.
func CmpImm8(rn Reg, imm8 uint8) (uint16, error) { return fmt3(0b01, rn, imm8) }

// AddImm8 encodes ADD Rdn, #imm8.
func AddImm8(rdn Reg, imm8 uint8) (uint16, error) { return fmt3(0b10, rdn, imm8) }

// SubImm8 encodes SUB Rdn, #imm8.
func SubImm8(rdn Reg, imm8 uint8) (uint16, error) { return fmt3(0b11, rdn, imm8) }

// --- Format 4: ALU operations ---

func fmt4(op uint16, rdn, rm Reg) (uint16, error) {
	if err := checkReg(rdn); err != nil {
		return 0, err
	}
	if err := checkReg(rm); err != nil {
		return 0, err
	}
	return 0b010000<<10 | op<<6 | uint16(rm)<<3 | uint16(rdn), nil
}

// And encodes AND Rdn, Rm.
func And(rdn, rm Reg) (uint16, error) { return fmt4(0b0000, rdn, rm) }

// Eor encodes EOR Rdn, Rm.
func Eor(rdn, rm Reg) (uint16, error) { return fmt4(0b0001, rdn, rm) }

// LslReg encodes LSL Rdn, Rm (shift amount taken from Rm).
func LslReg(rdn, rm Reg) (uint16, error) { return fmt4(0b0010, rdn, rm) }

// LsrReg encodes LSR Rdn, Rm.
func LsrReg(rdn, rm Reg) (uint16, error) { return fmt4(0b0011, rdn, rm) }

// AsrReg encodes ASR Rdn, Rm.
func AsrReg(rdn, rm Reg) (uint16, error) { return fmt4(0b0100, rdn, rm) }

// Tst encodes TST Rn, Rm (flags only; Rn unmodified).
func Tst(rn, rm Reg) (uint16, error) { return fmt4(0b1000, rn, rm) }

// CmpReg encodes CMP Rn, Rm.
func CmpReg(rn, rm Reg) (uint16, error) { return fmt4(0b1010, rn, rm) }

// Orr encodes ORR Rdn, Rm.
func Orr(rdn, rm Reg) (uint16, error) { return fmt4(0b1100, rdn, rm) }

// Mul encodes MUL Rdn, Rm (Rdn := Rdn * Rm).
func Mul(rdn, rm Reg) (uint16, error) { return fmt4(0b1101, rdn, rm) }

// Bic encodes BIC Rdn, Rm (Rdn := Rdn AND NOT Rm).
func Bic(rdn, rm Reg) (uint16, error) { return fmt4(0b1110, rdn, rm) }

// Mvn encodes MVN Rd, Rm (Rd := NOT Rm).
func Mvn(rd, rm Reg) (uint16, error) { return fmt4(0b1111, rd, rm) }

// --- Format 5: hi-register operations / branch exchange ---

// MovRegAny encodes MOV Rd, Rs where either operand may range the full
// r0-r15 set (used for SP/LR/PC moves that format 4's MOV alias cannot
// reach); codegen's subset only ever needs r0-r7 plus sp/lr/pc, so the
// range check is widened to 15 here instead of reusing checkReg.
func MovRegAny(rd, rs uint8) (uint16, error) {
	if err := checkImm("register", uint32(rd), 15); err != nil {
		return 0, err
	}
	if err := checkImm("register", uint32(rs), 15); err != nil {
		return 0, err
	}
	h1 := uint16(rd>>3) & 1
	h2 := uint16(rs>>3) & 1
	return 0b010001<<10 | 0b10<<8 | h1<<7 | h2<<6 | uint16(rs&7)<<3 | uint16(rd&7), nil
}

// Bx encodes BX Rm.
func Bx(rm uint8) (uint16, error) {
	if err := checkImm("register", uint32(rm), 15); err != nil {
		return 0, err
	}
	h := uint16(rm>>3) & 1
	return 0b010001<<10 | 0b11<<8 | h<<6 | uint16(rm&7)<<3, nil
}

// Blx encodes BLX Rm.
func Blx(rm uint8) (uint16, error) {
	if err := checkImm("register", uint32(rm), 15); err != nil {
		return 0, err
	}
	h := uint16(rm>>3) & 1
	return 0b010001<<10 | 0b11<<8 | 1<<7 | h<<6 | uint16(rm&7)<<3, nil
}

// --- Format 6: PC-relative load ---

// LdrPCRel encodes LDR Rd, [PC, #imm8*4], used by codegen's per-function
// literal pool to load relocated addresses (plain integer constants are
// built with MOV/LSL/ADD instead).
func LdrPCRel(rd Reg, imm8 uint8) (uint16, error) {
	if err := checkReg(rd); err != nil {
		return 0, err
	}
	return 0b01001<<11 | uint16(rd)<<8 | uint16(imm8), nil
}

// --- Format 7/9/10: load/store with immediate or register offset ---

// LdrImm5/StrImm5 encode word LDR/STR Rt, [Rn, #imm5*4].
func LdrImm5(rt, rn Reg, imm5 uint8) (uint16, error) { return loadStoreImm(0b01101, 1, rt, rn, imm5) }
func StrImm5(rt, rn Reg, imm5 uint8) (uint16, error) { return loadStoreImm(0b01100, 1, rt, rn, imm5) }

// LdrbImm5/StrbImm5 encode byte LDRB/STRB Rt, [Rn, #imm5].
func LdrbImm5(rt, rn Reg, imm5 uint8) (uint16, error) { return loadStoreImm(0b01111, 1, rt, rn, imm5) }
func StrbImm5(rt, rn Reg, imm5 uint8) (uint16, error) { return loadStoreImm(0b01110, 1, rt, rn, imm5) }

// LdrhImm5/StrhImm5 encode halfword LDRH/STRH Rt, [Rn, #imm5*2].
func LdrhImm5(rt, rn Reg, imm5 uint8) (uint16, error) { return loadStoreImm(0b10001, 1, rt, rn, imm5) }
func StrhImm5(rt, rn Reg, imm5 uint8) (uint16, error) { return loadStoreImm(0b10000, 1, rt, rn, imm5) }

func loadStoreImm(opPrefix uint16, _ uint8, rt, rn Reg, imm5 uint8) (uint16, error) {
	if err := checkReg(rt); err != nil {
		return 0, err
	}
	if err := checkReg(rn); err != nil {
		return 0, err
	}
	if err := checkImm("imm5", uint32(imm5), 31); err != nil {
		return 0, err
	}
	return opPrefix<<11 | uint16(imm5)<<6 | uint16(rn)<<3 | uint16(rt), nil
}

// LdrReg/StrReg encode word LDR/STR Rt, [Rn, Rm] (register offset).
func LdrReg(rt, rn, rm Reg) (uint16, error) { return loadStoreReg(1, 0, rt, rn, rm) }
func StrReg(rt, rn, rm Reg) (uint16, error) { return loadStoreReg(0, 0, rt, rn, rm) }

// LdrbReg/StrbReg encode byte LDRB/STRB Rt, [Rn, Rm].
func LdrbReg(rt, rn, rm Reg) (uint16, error) { return loadStoreReg(1, 1, rt, rn, rm) }
func StrbReg(rt, rn, rm Reg) (uint16, error) { return loadStoreReg(0, 1, rt, rn, rm) }

func loadStoreReg(l, b uint16, rt, rn, rm Reg) (uint16, error) {
	if err := checkReg(rt); err != nil {
		return 0, err
	}
	if err := checkReg(rn); err != nil {
		return 0, err
	}
	if err := checkReg(rm); err != nil {
		return 0, err
	}
	return 0b0101<<12 | l<<11 | b<<10 | uint16(rm)<<6 | uint16(rn)<<3 | uint16(rt), nil
}

// --- Format 11: SP-relative load/store ---

// LdrSP/StrSP encode word LDR/STR Rt, [SP, #imm8*4].
func LdrSP(rt Reg, imm8 uint8) (uint16, error) { return spRel(1, rt, imm8) }
func StrSP(rt Reg, imm8 uint8) (uint16, error) { return spRel(0, rt, imm8) }

func spRel(l uint16, rt Reg, imm8 uint8) (uint16, error) {
	if err := checkReg(rt); err != nil {
		return 0, err
	}
	return 0b1001<<12 | l<<11 | uint16(rt)<<8 | uint16(imm8), nil
}

// --- Format 13: add offset to SP ---

// AddSPImm7 encodes ADD SP, #imm7*4.
func AddSPImm7(imm7 uint8) (uint16, error) { return spOffset(0, imm7) }

// SubSPImm7 encodes SUB SP, #imm7*4.
func SubSPImm7(imm7 uint8) (uint16, error) { return spOffset(1, imm7) }

func spOffset(s uint16, imm7 uint8) (uint16, error) {
	if err := checkImm("imm7", uint32(imm7), 127); err != nil {
		return 0, err
	}
	return 0b10110000<<8 | s<<7 | uint16(imm7), nil
}

// --- Format 14: push/pop ---

// Push encodes PUSH {regs[, LR]}; regs is a bitmask over r0-r7.
func Push(regs uint8, withLR bool) uint16 {
	r := uint16(0)
	if withLR {
		r = 1
	}
	return 0b1011<<12 | 0b0<<11 | 0b10<<9 | r<<8 | uint16(regs)
}

// Pop encodes POP {regs[, PC]}; regs is a bitmask over r0-r7.
func Pop(regs uint8, withPC bool) uint16 {
	r := uint16(0)
	if withPC {
		r = 1
	}
	return 0b1011<<12 | 0b1<<11 | 0b10<<9 | r<<8 | uint16(regs)
}

// --- Format 16/17/18: branches and SVC ---

// Bcc encodes a conditional branch; offset is the signed byte distance
// from the instruction's address+4 to the target, which must be even
// and fit an 8-bit signed halfword-count field (-256..254).
func Bcc(cond Cond, offset int32) (uint16, error) {
	if offset%2 != 0 {
		return 0, errs.New(errs.INVAL, "branch offset %d is not halfword-aligned", offset)
	}
	half := offset / 2
	if half < -128 || half > 127 {
		return 0, errs.New(errs.TOOLARGE, "Bcc offset %d out of 8-bit range", offset)
	}
	return 0b1101<<12 | uint16(cond)<<8 | uint16(int8(half))&0xFF, nil
}

// Svc encodes SVC #imm8.
func Svc(imm8 uint8) uint16 {
	return 0b11011111<<8 | uint16(imm8)
}

// B encodes an unconditional branch; offset follows the same
// halfword-count convention as Bcc but with an 11-bit field
// (-2048..2046 bytes).
func B(offset int32) (uint16, error) {
	if offset%2 != 0 {
		return 0, errs.New(errs.INVAL, "branch offset %d is not halfword-aligned", offset)
	}
	half := offset / 2
	if half < -1024 || half > 1023 {
		return 0, errs.New(errs.TOOLARGE, "B offset %d out of 11-bit range", offset)
	}
	return 0b11100<<11 | uint16(int16(half))&0x7FF, nil
}

// Bl encodes the Thumb-2 long branch-with-link as two halfwords, per
// spec.md section 4.6: offset is the signed byte distance from the
// call instruction's address+4 to the target (already "minus 4" in the
// spec's phrasing). Returns (hi, lo) in emission order.
func Bl(offset int32) (hi, lo uint16, err error) {
	if offset%2 != 0 {
		return 0, 0, errs.New(errs.INVAL, "BL offset %d is not halfword-aligned", offset)
	}
	imm32 := uint32(offset)
	s := (imm32 >> 24) & 1
	i1 := (imm32 >> 23) & 1
	i2 := (imm32 >> 22) & 1
	imm10 := (imm32 >> 12) & 0x3FF
	imm11 := (imm32 >> 1) & 0x7FF
	j1 := (1 - i1) ^ s
	j2 := (1 - i2) ^ s
	hi = uint16(0xF000 | s<<10 | imm10)
	lo = uint16(0xD000 | j1<<13 | j2<<11 | imm11)
	return hi, lo, nil
}
