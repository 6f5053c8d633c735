package ir

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/spu"
)

func NewRoutine(name string) *Routine {
	return &Routine{
		Name: name,
		phys: map[int]Reg{},
	}
}

// NewReg allocates a fresh virtual register.
func (r *Routine) NewReg(name string) Reg {
	id := Reg(len(r.Regs))

	if name == "" {
		name = fmt.Sprintf("v%d", id)
	}

	r.Regs = append(r.Regs, RegInfo{Name: name, Phys: -1})

	return id
}

// Phys returns the unique register handle standing for physical register n.
func (r *Routine) Phys(n int) Reg {
	if n < 0 || n >= spu.NumRegs {
		panic(n)
	}

	if id, ok := r.phys[n]; ok {
		return id
	}

	if r.phys == nil {
		r.phys = map[int]Reg{}
	}

	id := Reg(len(r.Regs))
	r.Regs = append(r.Regs, RegInfo{Name: fmt.Sprintf("$%d", n), Phys: n})
	r.phys[n] = id

	return id
}

// IsPhys reports the physical number of a precoloured register.
func (r *Routine) IsPhys(reg Reg) (int, bool) {
	if reg < 0 || int(reg) >= len(r.Regs) || r.Regs[reg].Phys < 0 {
		return -1, false
	}

	return r.Regs[reg].Phys, true
}

func (r *Routine) RegName(reg Reg) string {
	if reg < 0 || int(reg) >= len(r.Regs) {
		return "_"
	}

	if r.Regs[reg].Phys >= 0 {
		return r.Regs[reg].Name
	}

	return "%" + r.Regs[reg].Name
}

func (r *Routine) NewBlock(name string) BlockID {
	id := BlockID(len(r.Blocks))

	if name == "" {
		name = fmt.Sprintf("b%d", id)
	}

	r.Blocks = append(r.Blocks, Block{Name: name, Head: Nil, Tail: Nil})

	return id
}

func (r *Routine) Block(b BlockID) *Block { return &r.Blocks[b] }

func (r *Routine) Instr(id InstrID) *Instr { return &r.Instrs[id] }

// Len is the number of instructions in all blocks.
func (r *Routine) Len() (n int) {
	for _, b := range r.Blocks {
		n += b.Len
	}

	return n
}

// Add validates x and appends it to block b.
func (r *Routine) Add(b BlockID, x Instr) (id InstrID, err error) {
	if !x.Op.Valid() {
		return Nil, r.malformed(x, "invalid opcode")
	}

	o := x.Opcode()

	for _, f := range [...]spu.Field{spu.FieldRT, spu.FieldRA, spu.FieldRB, spu.FieldRC} {
		reg := *x.slot(f)

		switch {
		case o.Has(f) && (reg < 0 || int(reg) >= len(r.Regs)):
			return Nil, r.malformed(x, fmt.Sprintf("missing %v operand", f))
		case !o.Has(f) && reg != NoReg:
			return Nil, r.malformed(x, fmt.Sprintf("format %v has no %v operand", o.Format, f))
		}
	}

	if !o.Has(spu.FieldImm) && x.Imm != 0 {
		return Nil, r.malformed(x, fmt.Sprintf("format %v has no immediate", o.Format))
	}

	if len(x.Params) != 0 && !o.Is(spu.Call) {
		return Nil, r.malformed(x, "parameter list on a non-call")
	}

	for _, p := range x.Params {
		if p < 0 || int(p) >= len(r.Regs) {
			return Nil, r.malformed(x, "bad parameter register")
		}
	}

	if x.Target.Kind != NoTarget {
		return Nil, r.malformed(x, "target must be set with SetBlockTarget or SetObjectTarget")
	}

	id = InstrID(len(r.Instrs))

	r.seq++
	x.Seq = r.seq
	x.Block = b
	x.Prev = r.Blocks[b].Tail
	x.Next = Nil

	r.Instrs = append(r.Instrs, x)

	bp := &r.Blocks[b]

	if bp.Tail != Nil {
		r.Instrs[bp.Tail].Next = id
	} else {
		bp.Head = id
	}

	bp.Tail = id
	bp.Len++

	return id, nil
}

// MustAdd is Add for code built by hand, in tests mostly.
func (r *Routine) MustAdd(b BlockID, x Instr) InstrID {
	id, err := r.Add(b, x)
	if err != nil {
		panic(err)
	}

	return id
}

// SetBlockTarget makes the instruction branch to a sibling block.
func (r *Routine) SetBlockTarget(id InstrID, b BlockID) error {
	x := &r.Instrs[id]

	if err := r.checkTarget(x); err != nil {
		return err
	}

	if b < 0 || int(b) >= len(r.Blocks) {
		return r.malformed(*x, fmt.Sprintf("no such block: %d", b))
	}

	x.Target = Target{Kind: BlockTarget, Block: b}

	return nil
}

// SetObjectTarget makes the instruction refer to an external object.
func (r *Routine) SetObjectTarget(id InstrID, obj Object) error {
	x := &r.Instrs[id]

	if err := r.checkTarget(x); err != nil {
		return err
	}

	if obj == nil {
		return r.malformed(*x, "nil object")
	}

	x.Target = Target{Kind: ObjectTarget, Object: obj}

	return nil
}

func (r *Routine) checkTarget(x *Instr) error {
	if x.Target.Kind != NoTarget {
		return r.malformed(*x, fmt.Sprintf("target already set to %v", x.Target.Kind))
	}

	if x.Opcode().Reloc == spu.NoReloc {
		return r.malformed(*x, "opcode can't refer to a target")
	}

	return nil
}

// Code returns block instructions in list order.
func (r *Routine) Code(b BlockID) []InstrID {
	bp := &r.Blocks[b]
	ids := make([]InstrID, 0, bp.Len)

	for id := bp.Head; id != Nil; id = r.Instrs[id].Next {
		ids = append(ids, id)
	}

	return ids
}

// Terminator returns the trailing control instruction of the block or Nil.
func (r *Routine) Terminator(b BlockID) InstrID {
	t := r.Blocks[b].Tail

	if t == Nil || !r.Instrs[t].Opcode().Terminates() {
		return Nil
	}

	return t
}

// Relink replaces the block's list order in place.
// order must be a permutation of the block's instructions.
func (r *Routine) Relink(b BlockID, order []InstrID) error {
	bp := &r.Blocks[b]

	if len(order) != bp.Len {
		return errors.New("relink block %v: %d instructions, want %d", bp.Name, len(order), bp.Len)
	}

	seen := make(map[InstrID]struct{}, len(order))

	for _, id := range order {
		if id < 0 || int(id) >= len(r.Instrs) || r.Instrs[id].Block != b {
			return errors.New("relink block %v: foreign instruction %d", bp.Name, id)
		}

		if _, ok := seen[id]; ok {
			return errors.New("relink block %v: duplicate instruction %d", bp.Name, id)
		}

		seen[id] = struct{}{}
	}

	prev := Nil

	for _, id := range order {
		r.Instrs[id].Prev = prev

		if prev != Nil {
			r.Instrs[prev].Next = id
		}

		prev = id
	}

	if prev != Nil {
		r.Instrs[prev].Next = Nil
	}

	if len(order) != 0 {
		bp.Head = order[0]
		bp.Tail = order[len(order)-1]
	}

	tlog.V("relink").Printw("relinked", "routine", r.Name, "block", bp.Name, "order", order, "from", loc.Caller(1))

	return nil
}

// Linearize flattens all blocks in layout order.
// start[b] is the index of block b's first instruction.
func (r *Routine) Linearize() (order []InstrID, start []int) {
	order = make([]InstrID, 0, r.Len())
	start = make([]int, len(r.Blocks))

	for b := range r.Blocks {
		start[b] = len(order)
		order = append(order, r.Code(BlockID(b))...)
	}

	return order, start
}

// Effects returns every register the instruction defines and reads,
// including the call and return conventions.
func (r *Routine) Effects(id InstrID) (defs, uses []Reg) {
	x := &r.Instrs[id]
	o := x.Opcode()

	if d := x.Def(); d != NoReg {
		defs = append(defs, d)
	}

	uses = x.Uses()

	switch {
	case o.Is(spu.Call):
		n := CallArgs(x)

		for i := 0; i < n; i++ {
			uses = append(uses, r.Phys(spu.ArgReg(i)))
		}

		defs = append(defs, r.Phys(spu.RetReg))
	case o.Is(spu.Return):
		uses = append(uses, r.Phys(spu.LR), r.Phys(spu.RetReg))
	}

	return defs, uses
}

// CallArgs is the number of argument registers a call reads:
// the callee's declared count when known, else one.
func CallArgs(x *Instr) int {
	if x.Target.Kind == ObjectTarget {
		if c, ok := x.Target.Object.(Callee); ok {
			if n, ok := c.NumParams(); ok {
				return min(n, spu.NumArgs)
			}
		}
	}

	return 1
}

func (r *Routine) malformed(x Instr, reason string) error {
	return &MalformedError{Routine: r.Name, Seq: x.Seq, Op: x.Op, Reason: reason}
}
