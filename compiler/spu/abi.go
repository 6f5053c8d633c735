package spu

// Register file and calling convention.
const (
	NumRegs = 128

	LR = 0 // link register
	SP = 1 // stack pointer

	FirstArg = 3
	NumArgs  = 72

	RetReg = 3
)

// ArgReg returns the physical register carrying argument i.
func ArgReg(i int) int {
	if i < 0 || i >= NumArgs {
		panic(i)
	}

	return FirstArg + i
}

// Word size and the alignment every addressable object has.
const (
	WordSize = 4
	Align    = 16
)
