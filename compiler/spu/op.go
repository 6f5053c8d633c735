package spu

import "strconv"

// Op identifies a catalog entry.
type Op int

const (
	Invalid Op = iota

	// RR
	A
	AH
	SF
	SFH
	AND
	OR
	XOR
	NAND
	NOR
	ANDC
	ORC
	CEQ
	CGT
	CLGT
	SHL
	SHLH
	ROT
	ROTH
	ROTM
	ROTMA
	MPY
	MPYU
	MPYH
	FA
	FS
	FM
	FCEQ
	FCGT
	LQX
	STQX
	SHLQBY
	ROTQBY

	// RR2
	CLZ
	CNTB
	XSBH
	XSHW
	XSWD
	FSM
	GB
	FREST
	BISL
	BIZ
	BINZ

	// R1
	BI
	FSCRWR

	// RI7
	SHLI
	SHLHI
	ROTI
	ROTHI
	ROTMI
	ROTMAI
	SHLQBYI
	ROTQBYI

	// RI8
	CFLTS
	CFLTU
	CSFLT
	CUFLT

	// RI10
	AI
	AHI
	SFI
	SFHI
	ANDI
	ORI
	XORI
	CEQI
	CGTI
	CLGTI
	MPYI
	MPYUI
	LQD
	STQD

	// RI14
	STOP

	// RI16
	IL
	ILH
	ILHU
	IOHL
	LQA
	STQA
	LQR
	STQR
	BRSL
	BRASL
	BRZ
	BRNZ
	BRHZ
	BRHNZ
	FSMBI

	// RI16, no registers
	BR
	BRA

	// RI18
	ILA

	// channel
	RDCH
	RCHCNT
	WRCH

	// fixed encodings
	NOP
	LNOP
	SYNC
	DSYNC

	// RRR
	SELB
	SHUFB
	MPYA
	FNMS
	FMA
	FMS

	// pseudo
	RET
	MOVE

	numOps
)

var opNames = [numOps]string{
	Invalid: "invalid",

	A: "a", AH: "ah", SF: "sf", SFH: "sfh",
	AND: "and", OR: "or", XOR: "xor", NAND: "nand", NOR: "nor", ANDC: "andc", ORC: "orc",
	CEQ: "ceq", CGT: "cgt", CLGT: "clgt",
	SHL: "shl", SHLH: "shlh", ROT: "rot", ROTH: "roth", ROTM: "rotm", ROTMA: "rotma",
	MPY: "mpy", MPYU: "mpyu", MPYH: "mpyh",
	FA: "fa", FS: "fs", FM: "fm", FCEQ: "fceq", FCGT: "fcgt",
	LQX: "lqx", STQX: "stqx", SHLQBY: "shlqby", ROTQBY: "rotqby",

	CLZ: "clz", CNTB: "cntb", XSBH: "xsbh", XSHW: "xshw", XSWD: "xswd",
	FSM: "fsm", GB: "gb", FREST: "frest", BISL: "bisl", BIZ: "biz", BINZ: "binz",

	BI: "bi", FSCRWR: "fscrwr",

	SHLI: "shli", SHLHI: "shlhi", ROTI: "roti", ROTHI: "rothi", ROTMI: "rotmi", ROTMAI: "rotmai",
	SHLQBYI: "shlqbyi", ROTQBYI: "rotqbyi",

	CFLTS: "cflts", CFLTU: "cfltu", CSFLT: "csflt", CUFLT: "cuflt",

	AI: "ai", AHI: "ahi", SFI: "sfi", SFHI: "sfhi", ANDI: "andi", ORI: "ori", XORI: "xori",
	CEQI: "ceqi", CGTI: "cgti", CLGTI: "clgti", MPYI: "mpyi", MPYUI: "mpyui",
	LQD: "lqd", STQD: "stqd",

	STOP: "stop",

	IL: "il", ILH: "ilh", ILHU: "ilhu", IOHL: "iohl",
	LQA: "lqa", STQA: "stqa", LQR: "lqr", STQR: "stqr",
	BRSL: "brsl", BRASL: "brasl", BRZ: "brz", BRNZ: "brnz", BRHZ: "brhz", BRHNZ: "brhnz",
	FSMBI: "fsmbi",

	BR: "br", BRA: "bra",

	ILA: "ila",

	RDCH: "rdch", RCHCNT: "rchcnt", WRCH: "wrch",

	NOP: "nop", LNOP: "lnop", SYNC: "sync", DSYNC: "dsync",

	SELB: "selb", SHUFB: "shufb", MPYA: "mpya", FNMS: "fnms", FMA: "fma", FMS: "fms",

	RET: "ret", MOVE: "move",
}

var byName map[string]Op

func init() {
	byName = make(map[string]Op, numOps)

	for op := Invalid + 1; op < numOps; op++ {
		byName[opNames[op]] = op
	}
}

// Ops returns all catalog entries in declaration order.
func Ops() []Op {
	ops := make([]Op, 0, numOps-1)

	for op := Invalid + 1; op < numOps; op++ {
		ops = append(ops, op)
	}

	return ops
}

// ByName finds an opcode by its mnemonic.
func ByName(name string) (Op, bool) {
	op, ok := byName[name]
	return op, ok
}

func (op Op) String() string {
	if op < 0 || op >= numOps || opNames[op] == "" {
		return "Op(" + strconv.Itoa(int(op)) + ")"
	}

	return opNames[op]
}

func (op Op) Valid() bool {
	return op > Invalid && op < numOps
}
