package link

import (
	"encoding/binary"
	"fmt"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	// Splice is opaque pre-assembled code with new instructions
	// written over it at seek points.
	Splice struct {
		place

		raw   []uint32
		words []uint32

		r     *ir.Routine
		b     ir.BlockID
		seeks []Region
	}

	// Region is a run of written words starting at a seek offset.
	Region struct {
		Offset int
		Count  int
	}
)

// NewSplice wraps big-endian raw code.
func NewSplice(name string, raw []byte) (*Splice, error) {
	if len(raw)%spu.WordSize != 0 {
		return nil, &LayoutError{Object: name, Offset: NoOffset, Reason: fmt.Sprintf("raw size %d is not whole words", len(raw))}
	}

	s := &Splice{
		place: place{name: name},
		r:     ir.NewRoutine(name),
	}

	s.b = s.r.NewBlock("splice")

	s.raw = make([]uint32, len(raw)/spu.WordSize)

	for i := range s.raw {
		s.raw[i] = binary.BigEndian.Uint32(raw[i*spu.WordSize:])
	}

	s.words = pad(append([]uint32{}, s.raw...))

	return s, nil
}

// Reg returns the operand for physical register n.
func (s *Splice) Reg(n int) ir.Reg { return s.r.Phys(n) }

// Routine holds the written instructions in write order.
func (s *Splice) Routine() *ir.Routine { return s.r }

// Seek starts a new region at byte offset off.
func (s *Splice) Seek(off int) error {
	if off < 0 || off%spu.WordSize != 0 || off >= len(s.raw)*spu.WordSize {
		return &LayoutError{Object: s.name, Offset: off, Reason: "bad seek offset"}
	}

	for _, p := range s.seeks {
		if off >= p.Offset && off < p.Offset+p.Count*spu.WordSize || off == p.Offset {
			return &LayoutError{Object: s.name, Offset: off, Reason: fmt.Sprintf("seek into region at %#x", p.Offset)}
		}
	}

	s.seeks = append(s.seeks, Region{Offset: off})

	tlog.V("splice").Printw("seek", "object", s.name, "off", off, "from", loc.Caller(1))

	return nil
}

// Write puts x at the current position.
func (s *Splice) Write(x ir.Instr) (ir.InstrID, error) {
	return s.write(x, nil)
}

// WriteRef puts x at the current position with obj as its target.
func (s *Splice) WriteRef(x ir.Instr, obj ir.Object) (ir.InstrID, error) {
	if obj == nil {
		return ir.Nil, &ir.MalformedError{Routine: s.name, Op: x.Op, Reason: "nil target"}
	}

	return s.write(x, obj)
}

func (s *Splice) write(x ir.Instr, obj ir.Object) (id ir.InstrID, err error) {
	if len(s.seeks) == 0 {
		return ir.Nil, &LayoutError{Object: s.name, Offset: NoOffset, Reason: "write before seek"}
	}

	cur := &s.seeks[len(s.seeks)-1]
	at := cur.Offset + cur.Count*spu.WordSize

	if at >= len(s.raw)*spu.WordSize {
		return ir.Nil, &LayoutError{Object: s.name, Offset: at, Reason: "write past the end"}
	}

	for _, p := range s.seeks[:len(s.seeks)-1] {
		if p.Offset == at {
			return ir.Nil, &LayoutError{Object: s.name, Offset: at, Reason: "write runs into the next region"}
		}
	}

	if obj != nil && (!x.Op.Valid() || spu.Get(x.Op).Reloc == spu.NoReloc) {
		return ir.Nil, &ir.MalformedError{Routine: s.name, Op: x.Op, Reason: "opcode can't refer to a target"}
	}

	id, err = s.r.Add(s.b, x)
	if err != nil {
		return ir.Nil, err
	}

	if obj != nil {
		err = s.r.SetObjectTarget(id, obj)
		if err != nil {
			return ir.Nil, err
		}
	}

	cur.Count++

	return id, nil
}

// Raw returns the original words.
func (s *Splice) Raw() []uint32 { return s.raw }

func (s *Splice) Regions() []Region { return s.seeks }

func (s *Splice) Size() int { return len(s.words) * spu.WordSize }

// PerformAddressPatching encodes written instructions over their regions.
// Words outside regions keep their raw value.
func (s *Splice) PerformAddressPatching() (err error) {
	if !s.placed {
		return &LayoutError{Object: s.name, Offset: NoOffset, Reason: "no offset"}
	}

	code := s.r.Code(s.b)

	total := 0
	for _, p := range s.seeks {
		total += p.Count
	}

	if total != len(code) {
		return &LayoutError{Object: s.name, Offset: s.off, Reason: fmt.Sprintf("size mismatch: %d written, %d in regions", len(code), total)}
	}

	alloc := PhysAlloc(s.r)
	k := 0

	for _, p := range s.seeks {
		for j := 0; j < p.Count; j++ {
			x := s.r.Instr(code[k])
			k++

			i := p.Offset/spu.WordSize + j
			at := s.off + i*spu.WordSize

			w, err := s.encode(x, alloc, at)
			if err != nil {
				return err
			}

			tlog.V("dump_patch").Printw("splice", "object", s.name, "at", at, "raw", s.raw[i], "word", w)

			s.words[i] = w
		}
	}

	return nil
}

func (s *Splice) encode(x *ir.Instr, alloc Alloc, at int) (uint32, error) {
	f, err := fields(s.r, x, alloc)
	if err != nil {
		return 0, err
	}

	if x.Target.Kind == ir.ObjectTarget {
		target, err := targetOffset(s.name, at, x.Target.Object)
		if err != nil {
			return 0, err
		}

		f.Imm, err = relocate(x.Opcode(), s.name, at, target)
		if err != nil {
			return 0, err
		}
	}

	w, err := spu.Encode(x.Op, f)
	if err != nil {
		return 0, &ir.MalformedError{Routine: s.name, Seq: x.Seq, Op: x.Op, Reason: err.Error()}
	}

	return w, nil
}

func (s *Splice) Words() []uint32 { return s.words }

func (s *Splice) Bytes() []byte {
	return appendWords(make([]byte, 0, s.Size()), s.words)
}

func (s *Splice) Listing() []spu.Line {
	base := 0
	if s.placed {
		base = s.off
	}

	lines := make([]spu.Line, len(s.words))

	for i, w := range s.words {
		lines[i] = spu.Disasm(base+i*spu.WordSize, w)
	}

	return lines
}
