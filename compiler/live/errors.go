package live

import (
	"fmt"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

// UnsupportedError is returned for control flow the analysis can't follow.
type UnsupportedError struct {
	Routine string
	Seq     int
	Op      spu.Op
	Reason  string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported construct: %v: #%d %v: %s", e.Routine, e.Seq, e.Op, e.Reason)
}

func unsupported(r *ir.Routine, x *ir.Instr, reason string) error {
	return &UnsupportedError{Routine: r.Name, Seq: x.Seq, Op: x.Op, Reason: reason}
}
