package ir

import (
	"fmt"

	"github.com/slowlang/spu/compiler/spu"
)

// MalformedError is returned for an instruction that doesn't fit its opcode.
type MalformedError struct {
	Routine string
	Seq     int
	Op      spu.Op
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed instruction: %v: #%d %v: %s", e.Routine, e.Seq, e.Op, e.Reason)
}
