package spu

import (
	"fmt"
)

type (
	Format int
	Pipe   int

	Feature uint32

	// Reloc tells how a symbolic target fills the immediate.
	Reloc int

	// Opcode describes one instruction: encoding, pipeline, timing and
	// the side effects the backend has to respect.
	Opcode struct {
		Name     string
		Pattern  uint32
		Format   Format
		Pipe     Pipe
		Latency  int
		Features Feature
		Reloc    Reloc

		// Shape is the operand layout of a Custom pseudo instruction,
		// Expand lowers it to a real opcode.
		Shape  Format
		Expand func(f Fields) (Op, Fields)
	}

	CatalogError struct {
		Op     Op
		Name   string
		Reason string
	}
)

const (
	InvalidFormat Format = iota
	RR                   // rt, ra, rb
	RRR                  // rt, ra, rb, rc
	RR2                  // rt, ra
	R1                   // ra
	RI7
	RI8
	RI10
	RI14
	RI16
	RI16NoRegs
	RI18
	Chan
	Weird
	Custom

	numFormats
)

const (
	NoPipe Pipe = iota
	Even
	Odd
)

const (
	Branch Feature = 1 << iota
	Call
	MemRead
	MemWrite
	Channel
	RtNotWritten
	RtRead
	Return
	Stop
	Unsigned
)

const (
	NoReloc Reloc = iota
	RelWord       // (target - pc) >> 2
	AbsWord       // target >> 2
	AbsByte       // target
)

var formatNames = [numFormats]string{
	InvalidFormat: "invalid",
	RR:            "RR",
	RRR:           "RRR",
	RR2:           "RR2",
	R1:            "R1",
	RI7:           "RI7",
	RI8:           "RI8",
	RI10:          "RI10",
	RI14:          "RI14",
	RI16:          "RI16",
	RI16NoRegs:    "RI16x",
	RI18:          "RI18",
	Chan:          "CHAN",
	Weird:         "FIXED",
	Custom:        "PSEUDO",
}

// opcode field width per format
var formatWidth = [numFormats]int{
	RR:         11,
	RRR:        4,
	RR2:        11,
	R1:         11,
	RI7:        11,
	RI8:        10,
	RI10:       8,
	RI14:       11,
	RI16:       9,
	RI16NoRegs: 9,
	RI18:       7,
	Chan:       11,
	Weird:      11,
}

const (
	store   = MemWrite | RtNotWritten | RtRead
	cbranch = Branch | RtNotWritten | RtRead
)

var catalog = [numOps]Opcode{
	A:      {Name: "a", Pattern: 0x0c0, Format: RR, Pipe: Even, Latency: 2},
	AH:     {Name: "ah", Pattern: 0x0c8, Format: RR, Pipe: Even, Latency: 2},
	SF:     {Name: "sf", Pattern: 0x040, Format: RR, Pipe: Even, Latency: 2},
	SFH:    {Name: "sfh", Pattern: 0x048, Format: RR, Pipe: Even, Latency: 2},
	AND:    {Name: "and", Pattern: 0x0c1, Format: RR, Pipe: Even, Latency: 2},
	OR:     {Name: "or", Pattern: 0x041, Format: RR, Pipe: Even, Latency: 2},
	XOR:    {Name: "xor", Pattern: 0x241, Format: RR, Pipe: Even, Latency: 2},
	NAND:   {Name: "nand", Pattern: 0x0c9, Format: RR, Pipe: Even, Latency: 2},
	NOR:    {Name: "nor", Pattern: 0x049, Format: RR, Pipe: Even, Latency: 2},
	ANDC:   {Name: "andc", Pattern: 0x2c1, Format: RR, Pipe: Even, Latency: 2},
	ORC:    {Name: "orc", Pattern: 0x2c9, Format: RR, Pipe: Even, Latency: 2},
	CEQ:    {Name: "ceq", Pattern: 0x3c0, Format: RR, Pipe: Even, Latency: 2},
	CGT:    {Name: "cgt", Pattern: 0x240, Format: RR, Pipe: Even, Latency: 2},
	CLGT:   {Name: "clgt", Pattern: 0x2c0, Format: RR, Pipe: Even, Latency: 2},
	SHL:    {Name: "shl", Pattern: 0x05b, Format: RR, Pipe: Even, Latency: 4},
	SHLH:   {Name: "shlh", Pattern: 0x05f, Format: RR, Pipe: Even, Latency: 4},
	ROT:    {Name: "rot", Pattern: 0x058, Format: RR, Pipe: Even, Latency: 4},
	ROTH:   {Name: "roth", Pattern: 0x05c, Format: RR, Pipe: Even, Latency: 4},
	ROTM:   {Name: "rotm", Pattern: 0x059, Format: RR, Pipe: Even, Latency: 4},
	ROTMA:  {Name: "rotma", Pattern: 0x05a, Format: RR, Pipe: Even, Latency: 4},
	MPY:    {Name: "mpy", Pattern: 0x3c4, Format: RR, Pipe: Even, Latency: 7},
	MPYU:   {Name: "mpyu", Pattern: 0x3cc, Format: RR, Pipe: Even, Latency: 7},
	MPYH:   {Name: "mpyh", Pattern: 0x3c5, Format: RR, Pipe: Even, Latency: 7},
	FA:     {Name: "fa", Pattern: 0x2c4, Format: RR, Pipe: Even, Latency: 6},
	FS:     {Name: "fs", Pattern: 0x2c5, Format: RR, Pipe: Even, Latency: 6},
	FM:     {Name: "fm", Pattern: 0x2c6, Format: RR, Pipe: Even, Latency: 6},
	FCEQ:   {Name: "fceq", Pattern: 0x3c2, Format: RR, Pipe: Even, Latency: 2},
	FCGT:   {Name: "fcgt", Pattern: 0x2c2, Format: RR, Pipe: Even, Latency: 2},
	LQX:    {Name: "lqx", Pattern: 0x1c4, Format: RR, Pipe: Odd, Latency: 6, Features: MemRead},
	STQX:   {Name: "stqx", Pattern: 0x144, Format: RR, Pipe: Odd, Latency: 6, Features: store},
	SHLQBY: {Name: "shlqby", Pattern: 0x1df, Format: RR, Pipe: Odd, Latency: 4},
	ROTQBY: {Name: "rotqby", Pattern: 0x1dc, Format: RR, Pipe: Odd, Latency: 4},

	CLZ:   {Name: "clz", Pattern: 0x2a5, Format: RR2, Pipe: Even, Latency: 2},
	CNTB:  {Name: "cntb", Pattern: 0x2b4, Format: RR2, Pipe: Even, Latency: 4},
	XSBH:  {Name: "xsbh", Pattern: 0x2b6, Format: RR2, Pipe: Even, Latency: 2},
	XSHW:  {Name: "xshw", Pattern: 0x2ae, Format: RR2, Pipe: Even, Latency: 2},
	XSWD:  {Name: "xswd", Pattern: 0x2a6, Format: RR2, Pipe: Even, Latency: 2},
	FSM:   {Name: "fsm", Pattern: 0x1b4, Format: RR2, Pipe: Odd, Latency: 4},
	GB:    {Name: "gb", Pattern: 0x1b0, Format: RR2, Pipe: Odd, Latency: 4},
	FREST: {Name: "frest", Pattern: 0x1b8, Format: RR2, Pipe: Odd, Latency: 4},
	BISL:  {Name: "bisl", Pattern: 0x1a9, Format: RR2, Pipe: Odd, Latency: 4, Features: Call},
	BIZ:   {Name: "biz", Pattern: 0x128, Format: RR2, Pipe: Odd, Latency: 4, Features: cbranch},
	BINZ:  {Name: "binz", Pattern: 0x129, Format: RR2, Pipe: Odd, Latency: 4, Features: cbranch},

	BI:     {Name: "bi", Pattern: 0x1a8, Format: R1, Pipe: Odd, Latency: 4, Features: Branch | RtNotWritten},
	FSCRWR: {Name: "fscrwr", Pattern: 0x3ba, Format: R1, Pipe: Odd, Latency: 7, Features: RtNotWritten | Channel},

	SHLI:    {Name: "shli", Pattern: 0x07b, Format: RI7, Pipe: Even, Latency: 4},
	SHLHI:   {Name: "shlhi", Pattern: 0x07f, Format: RI7, Pipe: Even, Latency: 4},
	ROTI:    {Name: "roti", Pattern: 0x078, Format: RI7, Pipe: Even, Latency: 4},
	ROTHI:   {Name: "rothi", Pattern: 0x07c, Format: RI7, Pipe: Even, Latency: 4},
	ROTMI:   {Name: "rotmi", Pattern: 0x079, Format: RI7, Pipe: Even, Latency: 4},
	ROTMAI:  {Name: "rotmai", Pattern: 0x07a, Format: RI7, Pipe: Even, Latency: 4},
	SHLQBYI: {Name: "shlqbyi", Pattern: 0x1ff, Format: RI7, Pipe: Odd, Latency: 4},
	ROTQBYI: {Name: "rotqbyi", Pattern: 0x1fc, Format: RI7, Pipe: Odd, Latency: 4},

	CFLTS: {Name: "cflts", Pattern: 0x1d8, Format: RI8, Pipe: Even, Latency: 7, Features: Unsigned},
	CFLTU: {Name: "cfltu", Pattern: 0x1d9, Format: RI8, Pipe: Even, Latency: 7, Features: Unsigned},
	CSFLT: {Name: "csflt", Pattern: 0x1da, Format: RI8, Pipe: Even, Latency: 7, Features: Unsigned},
	CUFLT: {Name: "cuflt", Pattern: 0x1db, Format: RI8, Pipe: Even, Latency: 7, Features: Unsigned},

	AI:    {Name: "ai", Pattern: 0x1c, Format: RI10, Pipe: Even, Latency: 2},
	AHI:   {Name: "ahi", Pattern: 0x1d, Format: RI10, Pipe: Even, Latency: 2},
	SFI:   {Name: "sfi", Pattern: 0x0c, Format: RI10, Pipe: Even, Latency: 2},
	SFHI:  {Name: "sfhi", Pattern: 0x0d, Format: RI10, Pipe: Even, Latency: 2},
	ANDI:  {Name: "andi", Pattern: 0x14, Format: RI10, Pipe: Even, Latency: 2},
	ORI:   {Name: "ori", Pattern: 0x04, Format: RI10, Pipe: Even, Latency: 2},
	XORI:  {Name: "xori", Pattern: 0x44, Format: RI10, Pipe: Even, Latency: 2},
	CEQI:  {Name: "ceqi", Pattern: 0x7c, Format: RI10, Pipe: Even, Latency: 2},
	CGTI:  {Name: "cgti", Pattern: 0x4c, Format: RI10, Pipe: Even, Latency: 2},
	CLGTI: {Name: "clgti", Pattern: 0x5c, Format: RI10, Pipe: Even, Latency: 2},
	MPYI:  {Name: "mpyi", Pattern: 0x74, Format: RI10, Pipe: Even, Latency: 7},
	MPYUI: {Name: "mpyui", Pattern: 0x75, Format: RI10, Pipe: Even, Latency: 7},
	LQD:   {Name: "lqd", Pattern: 0x34, Format: RI10, Pipe: Odd, Latency: 6, Features: MemRead},
	STQD:  {Name: "stqd", Pattern: 0x24, Format: RI10, Pipe: Odd, Latency: 6, Features: store},

	STOP: {Name: "stop", Pattern: 0x000, Format: RI14, Pipe: Odd, Latency: 4, Features: Branch | Stop | RtNotWritten | Unsigned},

	IL:    {Name: "il", Pattern: 0x081, Format: RI16, Pipe: Even, Latency: 2},
	ILH:   {Name: "ilh", Pattern: 0x083, Format: RI16, Pipe: Even, Latency: 2, Features: Unsigned},
	ILHU:  {Name: "ilhu", Pattern: 0x082, Format: RI16, Pipe: Even, Latency: 2, Features: Unsigned},
	IOHL:  {Name: "iohl", Pattern: 0x0c1, Format: RI16, Pipe: Even, Latency: 2, Features: RtRead | Unsigned},
	LQA:   {Name: "lqa", Pattern: 0x061, Format: RI16, Pipe: Odd, Latency: 6, Features: MemRead, Reloc: AbsWord},
	STQA:  {Name: "stqa", Pattern: 0x041, Format: RI16, Pipe: Odd, Latency: 6, Features: store, Reloc: AbsWord},
	LQR:   {Name: "lqr", Pattern: 0x067, Format: RI16, Pipe: Odd, Latency: 6, Features: MemRead, Reloc: RelWord},
	STQR:  {Name: "stqr", Pattern: 0x047, Format: RI16, Pipe: Odd, Latency: 6, Features: store, Reloc: RelWord},
	BRSL:  {Name: "brsl", Pattern: 0x066, Format: RI16, Pipe: Odd, Latency: 4, Features: Call, Reloc: RelWord},
	BRASL: {Name: "brasl", Pattern: 0x062, Format: RI16, Pipe: Odd, Latency: 4, Features: Call, Reloc: AbsWord},
	BRZ:   {Name: "brz", Pattern: 0x040, Format: RI16, Pipe: Odd, Latency: 4, Features: cbranch, Reloc: RelWord},
	BRNZ:  {Name: "brnz", Pattern: 0x042, Format: RI16, Pipe: Odd, Latency: 4, Features: cbranch, Reloc: RelWord},
	BRHZ:  {Name: "brhz", Pattern: 0x044, Format: RI16, Pipe: Odd, Latency: 4, Features: cbranch, Reloc: RelWord},
	BRHNZ: {Name: "brhnz", Pattern: 0x046, Format: RI16, Pipe: Odd, Latency: 4, Features: cbranch, Reloc: RelWord},
	FSMBI: {Name: "fsmbi", Pattern: 0x065, Format: RI16, Pipe: Odd, Latency: 4, Features: Unsigned},

	BR:  {Name: "br", Pattern: 0x064, Format: RI16NoRegs, Pipe: Odd, Latency: 4, Features: Branch | RtNotWritten, Reloc: RelWord},
	BRA: {Name: "bra", Pattern: 0x060, Format: RI16NoRegs, Pipe: Odd, Latency: 4, Features: Branch | RtNotWritten, Reloc: AbsWord},

	ILA: {Name: "ila", Pattern: 0x021, Format: RI18, Pipe: Even, Latency: 2, Features: Unsigned, Reloc: AbsByte},

	RDCH:   {Name: "rdch", Pattern: 0x00d, Format: Chan, Pipe: Odd, Latency: 6, Features: Channel | Unsigned},
	RCHCNT: {Name: "rchcnt", Pattern: 0x00f, Format: Chan, Pipe: Odd, Latency: 6, Features: Channel | Unsigned},
	WRCH:   {Name: "wrch", Pattern: 0x10d, Format: Chan, Pipe: Odd, Latency: 6, Features: Channel | RtNotWritten | RtRead | Unsigned},

	NOP:   {Name: "nop", Pattern: 0x201, Format: Weird, Pipe: Even, Latency: 1, Features: RtNotWritten},
	LNOP:  {Name: "lnop", Pattern: 0x001, Format: Weird, Pipe: Odd, Latency: 1, Features: RtNotWritten},
	SYNC:  {Name: "sync", Pattern: 0x002, Format: Weird, Pipe: Odd, Latency: 1, Features: MemRead | MemWrite | RtNotWritten},
	DSYNC: {Name: "dsync", Pattern: 0x003, Format: Weird, Pipe: Odd, Latency: 1, Features: MemRead | MemWrite | RtNotWritten},

	SELB:  {Name: "selb", Pattern: 0x8, Format: RRR, Pipe: Even, Latency: 2},
	SHUFB: {Name: "shufb", Pattern: 0xb, Format: RRR, Pipe: Odd, Latency: 4},
	MPYA:  {Name: "mpya", Pattern: 0xc, Format: RRR, Pipe: Even, Latency: 7},
	FNMS:  {Name: "fnms", Pattern: 0xd, Format: RRR, Pipe: Even, Latency: 6},
	FMA:   {Name: "fma", Pattern: 0xe, Format: RRR, Pipe: Even, Latency: 6},
	FMS:   {Name: "fms", Pattern: 0xf, Format: RRR, Pipe: Even, Latency: 6},

	RET: {Name: "ret", Format: Custom, Shape: Weird, Pipe: Odd, Latency: 4, Features: Branch | Return | RtNotWritten,
		Expand: func(f Fields) (Op, Fields) {
			return BI, Fields{RA: LR}
		}},
	MOVE: {Name: "move", Format: Custom, Shape: RR2, Pipe: Even, Latency: 2,
		Expand: func(f Fields) (Op, Fields) {
			return ORI, Fields{RT: f.RT, RA: f.RA}
		}},
}

// Get returns the catalog entry for op. It panics on an unknown op.
func Get(op Op) *Opcode {
	if !op.Valid() {
		panic(op)
	}

	return &catalog[op]
}

func (o *Opcode) Is(f Feature) bool { return o.Features&f != 0 }

// Width is the number of opcode bits at the top of the word.
func (o *Opcode) Width() int { return o.Format.Width() }

// Writes reports whether the rt field is a destination.
func (o *Opcode) Writes() bool {
	return !o.Is(RtNotWritten) && o.Has(FieldRT)
}

// Terminates reports whether the instruction ends a basic block.
func (o *Opcode) Terminates() bool { return o.Is(Branch) }

func (f Format) Width() int {
	if f <= InvalidFormat || f >= numFormats {
		return 0
	}

	return formatWidth[f]
}

func (f Format) String() string {
	if f < 0 || f >= numFormats {
		return fmt.Sprintf("Format(%d)", int(f))
	}

	return formatNames[f]
}

func (p Pipe) String() string {
	switch p {
	case Even:
		return "even"
	case Odd:
		return "odd"
	default:
		return "none"
	}
}

func (r Reloc) String() string {
	switch r {
	case NoReloc:
		return "-"
	case RelWord:
		return "rel"
	case AbsWord:
		return "abs"
	case AbsByte:
		return "abs_byte"
	default:
		return fmt.Sprintf("Reloc(%d)", int(r))
	}
}

var featureNames = []string{"branch", "call", "load", "store", "channel", "rt_not_written", "rt_read", "return", "stop", "unsigned"}

func (f Feature) String() string {
	if f == 0 {
		return "-"
	}

	var b []byte

	for i, n := range featureNames {
		if f&(1<<i) == 0 {
			continue
		}

		if len(b) != 0 {
			b = append(b, '|')
		}

		b = append(b, n...)
		f &^= 1 << i
	}

	if f != 0 {
		if len(b) != 0 {
			b = append(b, '|')
		}

		b = fmt.Appendf(b, "%#x", uint32(f))
	}

	return string(b)
}

// CheckCatalog verifies the opcode table is self-consistent.
func CheckCatalog() error {
	for op := Invalid + 1; op < numOps; op++ {
		o := &catalog[op]

		if o.Name != op.String() {
			return &CatalogError{Op: op, Name: o.Name, Reason: fmt.Sprintf("name mismatch: want %q", op.String())}
		}

		if o.Format <= InvalidFormat || o.Format >= numFormats {
			return &CatalogError{Op: op, Name: o.Name, Reason: "no format"}
		}

		if o.Latency <= 0 {
			return &CatalogError{Op: op, Name: o.Name, Reason: "no latency"}
		}

		if o.Reloc != NoReloc && !o.Format.Has(FieldImm) {
			return &CatalogError{Op: op, Name: o.Name, Reason: "relocation without an immediate"}
		}

		if (o.Format == Custom) != (o.Expand != nil) {
			return &CatalogError{Op: op, Name: o.Name, Reason: "expand is only for pseudo ops"}
		}

		if o.Format == Custom {
			continue
		}

		if w := o.Width(); o.Pattern >= 1<<w {
			return &CatalogError{Op: op, Name: o.Name, Reason: fmt.Sprintf("pattern %#x wider than %d bits", o.Pattern, w)}
		}

		for other := op + 1; other < numOps; other++ {
			p := &catalog[other]
			if p.Format == Custom {
				continue
			}

			w := min(o.Width(), p.Width())

			if o.Pattern>>(o.Width()-w) == p.Pattern>>(p.Width()-w) {
				return &CatalogError{Op: op, Name: o.Name, Reason: fmt.Sprintf("pattern prefix collides with %v", other)}
			}
		}
	}

	return nil
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("opcode catalog: %v (%q): %s", e.Op, e.Name, e.Reason)
}
