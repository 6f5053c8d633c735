package ir

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/spu/compiler/spu"
)

type (
	Reg     int
	InstrID int
	BlockID int

	RegInfo struct {
		Name string
		Phys int // -1 for virtual registers
	}

	// Object is anything a branch or call may refer to outside the routine.
	Object interface {
		Name() string
	}

	// Callee is an Object which may know how many arguments it takes.
	Callee interface {
		Object
		NumParams() (int, bool)
	}

	TargetKind int

	// Target is the symbolic destination of a branch or call.
	Target struct {
		Kind   TargetKind
		Block  BlockID
		Object Object
	}

	Instr struct {
		Op spu.Op

		RT, RA, RB, RC Reg

		Imm int32

		Target Target

		// Params are the values passed by a call with a parameter list.
		Params []Reg

		Seq   int
		Index int // scratch

		Block      BlockID
		Prev, Next InstrID
	}

	Block struct {
		Name string

		Head, Tail InstrID
		Len        int
	}

	Routine struct {
		Name string

		Regs   []RegInfo `tlog:"-"`
		Instrs []Instr   `tlog:"-"`
		Blocks []Block   `tlog:"-"`

		phys map[int]Reg
		seq  int
	}
)

const (
	NoReg   Reg     = -1
	Nil     InstrID = -1
	NoBlock BlockID = -1
)

const (
	NoTarget TargetKind = iota
	BlockTarget
	ObjectTarget
)

// Make builds an instruction with registers in assembler operand order.
// Slots the opcode doesn't use are NoReg.
func Make(op spu.Op, regs ...Reg) Instr {
	x := Instr{
		Op: op,
		RT: NoReg, RA: NoReg, RB: NoReg, RC: NoReg,
	}

	i := 0

	for _, f := range spu.Get(op).Operands() {
		if f == spu.FieldImm || i >= len(regs) {
			continue
		}

		*x.slot(f) = regs[i]
		i++
	}

	return x
}

// WithImm sets the immediate.
func (x Instr) WithImm(imm int32) Instr {
	x.Imm = imm
	return x
}

// WithParams turns the instruction into a call with a parameter list.
func (x Instr) WithParams(params ...Reg) Instr {
	x.Params = params
	return x
}

func (x *Instr) Opcode() *spu.Opcode { return spu.Get(x.Op) }

// Def returns the register the instruction writes or NoReg.
func (x *Instr) Def() Reg {
	if !x.Opcode().Writes() {
		return NoReg
	}

	return x.RT
}

// Uses returns the registers the instruction reads.
func (x *Instr) Uses() []Reg {
	o := x.Opcode()

	uses := make([]Reg, 0, 4+len(x.Params))

	for _, f := range [...]spu.Field{spu.FieldRA, spu.FieldRB, spu.FieldRC} {
		if o.Has(f) {
			uses = append(uses, *x.slot(f))
		}
	}

	if o.Is(spu.RtRead) && o.Has(spu.FieldRT) {
		uses = append(uses, x.RT)
	}

	uses = append(uses, x.Params...)

	return uses
}

func (x *Instr) slot(f spu.Field) *Reg {
	switch f {
	case spu.FieldRT:
		return &x.RT
	case spu.FieldRA:
		return &x.RA
	case spu.FieldRB:
		return &x.RB
	case spu.FieldRC:
		return &x.RC
	default:
		panic(f)
	}
}

func (x Instr) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 7)

	b = e.AppendKeyInt(b, "seq", x.Seq)
	b = e.AppendKeyValue(b, "op", x.Op.String())
	b = e.AppendKeyInt(b, "rt", int(x.RT))
	b = e.AppendKeyInt(b, "ra", int(x.RA))
	b = e.AppendKeyInt(b, "rb", int(x.RB))
	b = e.AppendKeyInt(b, "rc", int(x.RC))
	b = e.AppendKeyInt64(b, "imm", int64(x.Imm))

	return b
}

func (k TargetKind) String() string {
	switch k {
	case BlockTarget:
		return "block"
	case ObjectTarget:
		return "object"
	default:
		return "none"
	}
}
