package asm

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/link"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	// File is a parsed assembler source.
	File struct {
		Name string

		Image    *link.Image
		Routines []*ir.Routine
		Codes    []*link.Code
		Splices  []*link.Splice
	}

	state struct {
		f *File

		b    []byte
		line int

		// current routine
		r       *ir.Routine
		params  int
		cur     ir.BlockID
		open    bool // cur takes more instructions
		labels  map[string]ir.BlockID
		defined map[string]int // label line
		regs    map[string]ir.Reg
		refs    []labelRef

		// current splice
		patch  string
		raw    []byte
		splice *link.Splice
	}

	labelRef struct {
		id    ir.InstrID
		label string
		line  int
	}

	token interface{}

	ident     []byte
	directive []byte
	symbol    []byte
	virt      []byte
	phys      int
	number    int64
	punct     byte
)

// ParseError points to the source line.
type ParseError struct {
	File string
	Line int
	Err  error
}

// Parse reads routines and data objects into a new Image.
// Objects are added to the image in source order.
func Parse(ctx context.Context, name string, text []byte) (f *File, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "asm: parse", "name", name, "size", len(text))
	defer tr.Finish("err", &err)

	s := &state{
		f: &File{
			Name:  name,
			Image: link.NewImage(),
		},
		b: text,
	}

	for i := 0; i < len(s.b); {
		s.line++

		end := bytes.IndexByte(s.b[i:], '\n')
		if end < 0 {
			end = len(s.b)
		} else {
			end += i
		}

		err = s.parseLine(s.b[i:end])
		if err != nil {
			return nil, &ParseError{File: name, Line: s.line, Err: err}
		}

		i = end + 1
	}

	err = s.finish()
	if err != nil {
		return nil, &ParseError{File: name, Line: s.line, Err: err}
	}

	if tr.If("dump_asm") {
		for _, o := range s.f.Image.Objects() {
			tr.Printw("object", "name", o.Name(), "typ", tlog.NextAsType, o)
		}
	}

	return s.f, nil
}

func (s *state) parseLine(l []byte) (err error) {
	toks, err := tokens(l)
	if err != nil {
		return err
	}

	if len(toks) == 0 {
		return nil
	}

	switch t := toks[0].(type) {
	case directive:
		return s.parseDirective(string(t), toks[1:], l)
	case ident:
		if len(toks) == 2 && toks[1] == punct(':') {
			return s.label(string(t))
		}

		return s.parseInstr(string(t), toks[1:])
	default:
		return errors.New("unexpected token: %v", describe(t))
	}
}

func (s *state) parseDirective(d string, args []token, l []byte) (err error) {
	switch d {
	case "routine":
		err = s.finish()
		if err != nil {
			return err
		}

		name, err := argIdent(args, 0)
		if err != nil {
			return errors.Wrap(err, "routine name")
		}

		params := -1

		if len(args) > 1 {
			n, ok := args[1].(number)
			if !ok || n < 0 || n > spu.NumArgs {
				return errors.New("bad parameter count: %v", describe(args[1]))
			}

			params = int(n)
		}

		if len(args) > 2 {
			return errors.New("unexpected token: %v", describe(args[2]))
		}

		s.r = ir.NewRoutine(name)
		s.params = params
		s.labels = map[string]ir.BlockID{}
		s.defined = map[string]int{}
		s.regs = map[string]ir.Reg{}
		s.open = false

		return nil
	case "data":
		err = s.finish()
		if err != nil {
			return err
		}

		name, err := argIdent(args, 0)
		if err != nil {
			return errors.Wrap(err, "data name")
		}

		data, err := hexPayload(l)
		if err != nil {
			return err
		}

		return s.f.Image.Add(link.NewBlob(name, data))
	case "spill":
		err = s.finish()
		if err != nil {
			return err
		}

		name, err := argIdent(args, 0)
		if err != nil {
			return errors.Wrap(err, "spill name")
		}

		if len(args) != 2 {
			return errors.New("expected slot count")
		}

		n, ok := args[1].(number)
		if !ok || n <= 0 {
			return errors.New("bad slot count: %v", describe(args[1]))
		}

		return s.f.Image.Add(link.NewSpill(name, int(n)))
	case "patch":
		err = s.finish()
		if err != nil {
			return err
		}

		name, err := argIdent(args, 0)
		if err != nil {
			return errors.Wrap(err, "patch name")
		}

		s.patch = name
		s.raw = []byte{}

		return nil
	case "word":
		if s.raw == nil {
			return errors.New(".word outside of .patch")
		}

		if s.splice != nil {
			return errors.New(".word after .seek")
		}

		for _, a := range args {
			n, ok := a.(number)
			if !ok || n < 0 || n > 0xffffffff {
				return errors.New("bad word: %v", describe(a))
			}

			s.raw = append(s.raw, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		}

		return nil
	case "seek":
		if s.raw == nil {
			return errors.New(".seek outside of .patch")
		}

		if len(args) != 1 {
			return errors.New("expected offset")
		}

		off, ok := args[0].(number)
		if !ok {
			return errors.New("bad offset: %v", describe(args[0]))
		}

		if s.splice == nil {
			s.splice, err = link.NewSplice(s.patch, s.raw)
			if err != nil {
				return err
			}
		}

		return s.splice.Seek(int(off))
	default:
		return errors.New("unknown directive: .%s", d)
	}
}

func (s *state) label(name string) error {
	if s.r == nil {
		return errors.New("label outside of .routine")
	}

	if l, ok := s.defined[name]; ok {
		return errors.New("label %v redefined, previous at line %d", name, l)
	}

	s.defined[name] = s.line
	s.labels[name] = s.r.NewBlock(name)

	s.cur = s.labels[name]
	s.open = true

	return nil
}

func (s *state) parseInstr(mnemonic string, args []token) (err error) {
	op, ok := spu.ByName(mnemonic)
	if !ok {
		return errors.New("unknown instruction: %v", mnemonic)
	}

	if s.r == nil && s.splice == nil {
		if s.raw != nil {
			return errors.New("instruction in .patch before .seek")
		}

		return errors.New("instruction outside of .routine")
	}

	o := spu.Get(op)

	operands, params, err := splitOperands(args)
	if err != nil {
		return err
	}

	fields := o.Operands()

	if len(operands) != len(fields) {
		return errors.New("%v: expected %d operands, got %d", mnemonic, len(fields), len(operands))
	}

	var regs []ir.Reg
	var imm int32
	var label string
	var sym string

	for i, f := range fields {
		a := operands[i]

		if f != spu.FieldImm {
			reg, err := s.reg(a)
			if err != nil {
				return errors.Wrap(err, "%v operand %v", mnemonic, f)
			}

			regs = append(regs, reg)

			continue
		}

		switch a := a.(type) {
		case number:
			if lo, hi := o.ImmRange(); int64(a) < lo || int64(a) > hi {
				return errors.New("%v: immediate out of range [%d, %d]: %d", mnemonic, lo, hi, a)
			}

			imm = int32(a)
		case ident:
			label = string(a)
		case symbol:
			sym = string(a)
		default:
			return errors.New("%v: bad immediate: %v", mnemonic, describe(a))
		}
	}

	x := ir.Make(op, regs...).WithImm(imm)

	if params != nil {
		ps := make([]ir.Reg, len(params))

		for i, a := range params {
			ps[i], err = s.reg(a)
			if err != nil {
				return errors.Wrap(err, "param %d", i)
			}
		}

		x = x.WithParams(ps...)
	}

	if s.splice != nil {
		return s.writeSplice(x, label, sym)
	}

	if !s.open {
		s.cur = s.r.NewBlock("")
		s.open = true
	}

	id, err := s.r.Add(s.cur, x)
	if err != nil {
		return err
	}

	switch {
	case sym != "":
		err = s.r.SetObjectTarget(id, s.f.Image.Ref(sym))
	case label != "":
		s.refs = append(s.refs, labelRef{id: id, label: label, line: s.line})
	}

	if err != nil {
		return err
	}

	if o.Terminates() {
		s.open = false
	}

	return nil
}

func (s *state) writeSplice(x ir.Instr, label, sym string) (err error) {
	if label != "" {
		return errors.New("label %v in .patch: only @symbols can be referred", label)
	}

	if sym != "" {
		_, err = s.splice.WriteRef(x, s.f.Image.Ref(sym))
	} else {
		_, err = s.splice.Write(x)
	}

	return err
}

func (s *state) reg(t token) (ir.Reg, error) {
	switch t := t.(type) {
	case phys:
		if t < 0 || t >= spu.NumRegs {
			return ir.NoReg, errors.New("no such register: $%d", int(t))
		}

		if s.splice != nil {
			return s.splice.Reg(int(t)), nil
		}

		return s.r.Phys(int(t)), nil
	case virt:
		if s.splice != nil {
			return ir.NoReg, errors.New("virtual register %%%s in .patch", t)
		}

		reg, ok := s.regs[string(t)]
		if !ok {
			reg = s.r.NewReg(string(t))
			s.regs[string(t)] = reg
		}

		return reg, nil
	default:
		return ir.NoReg, errors.New("expected register, got %v", describe(t))
	}
}

// finish closes the current routine or patch.
func (s *state) finish() (err error) {
	switch {
	case s.r != nil:
		err = s.finishRoutine()
	case s.raw != nil:
		err = s.finishPatch()
	}

	return err
}

func (s *state) finishRoutine() (err error) {
	r := s.r
	s.r = nil

	for _, ref := range s.refs {
		if _, ok := s.defined[ref.label]; !ok {
			return errors.New("line %d: undefined label %v", ref.line, ref.label)
		}

		err = r.SetBlockTarget(ref.id, s.labels[ref.label])
		if err != nil {
			return errors.Wrap(err, "line %d", ref.line)
		}
	}

	s.refs = s.refs[:0]

	c := link.NewCode(r, s.params)

	err = s.f.Image.Add(c)
	if err != nil {
		return err
	}

	s.f.Routines = append(s.f.Routines, r)
	s.f.Codes = append(s.f.Codes, c)

	return nil
}

func (s *state) finishPatch() (err error) {
	sp := s.splice

	if sp == nil {
		sp, err = link.NewSplice(s.patch, s.raw)
		if err != nil {
			return err
		}
	}

	s.raw = nil
	s.splice = nil

	err = s.f.Image.Add(sp)
	if err != nil {
		return err
	}

	s.f.Splices = append(s.f.Splices, sp)

	return nil
}

// splitOperands separates comma separated operands from the optional
// parenthesized call parameter list.
func splitOperands(args []token) (ops, params []token, err error) {
	i := 0

	for i < len(args) {
		if args[i] == punct('(') {
			break
		}

		if len(ops) != 0 {
			if args[i] != punct(',') {
				return nil, nil, errors.New("expected comma, got %v", describe(args[i]))
			}

			i++

			if i == len(args) {
				return nil, nil, errors.New("operand expected")
			}
		}

		if _, ok := args[i].(punct); ok {
			return nil, nil, errors.New("operand expected, got %v", describe(args[i]))
		}

		ops = append(ops, args[i])
		i++
	}

	if i == len(args) {
		return ops, nil, nil
	}

	params = []token{}
	i++

	for ; i < len(args); i++ {
		if args[i] == punct(')') {
			if i+1 != len(args) {
				return nil, nil, errors.New("unexpected token after params: %v", describe(args[i+1]))
			}

			return ops, params, nil
		}

		if len(params) != 0 {
			if args[i] != punct(',') {
				return nil, nil, errors.New("expected comma, got %v", describe(args[i]))
			}

			i++

			if i == len(args) {
				break
			}
		}

		params = append(params, args[i])
	}

	return nil, nil, errors.New("unclosed param list")
}

func argIdent(args []token, i int) (string, error) {
	if i >= len(args) {
		return "", errors.New("expected name")
	}

	switch t := args[i].(type) {
	case ident:
		return string(t), nil
	case symbol:
		return string(t), nil
	default:
		return "", errors.New("expected name, got %v", describe(t))
	}
}

// hexPayload decodes everything after the directive name as hex bytes.
func hexPayload(l []byte) ([]byte, error) {
	l = stripComment(l)

	f := bytes.Fields(l)
	if len(f) < 2 {
		return nil, errors.New("expected name")
	}

	var buf []byte

	for _, w := range f[2:] {
		w = bytes.TrimPrefix(w, []byte("0x"))
		buf = append(buf, w...)
	}

	data := make([]byte, hex.DecodedLen(len(buf)))

	_, err := hex.Decode(data, buf)
	if err != nil {
		return nil, errors.Wrap(err, "data")
	}

	return data, nil
}

func stripComment(l []byte) []byte {
	if i := bytes.IndexAny(l, ";#"); i >= 0 {
		return l[:i]
	}

	return l
}

func tokens(l []byte) (toks []token, err error) {
	for i := 0; i < len(l); {
		t, e, err := token1(l, i)
		if err != nil {
			return nil, errors.Wrap(err, "at col %d", i+1)
		}

		if t != nil {
			toks = append(toks, t)
		}

		// .data payload is raw hex
		if len(toks) == 2 && describe(toks[0]) == ".data" {
			break
		}

		i = e
	}

	return toks, nil
}

func token1(b []byte, st int) (t token, i int, err error) {
	i = skipSpaces(b, st)
	if i == len(b) {
		return nil, i, nil
	}

	c := b[i]

	switch {
	case c == ';' || c == '#':
		return nil, len(b), nil
	case c == ',' || c == ':' || c == '(' || c == ')':
		return punct(c), i + 1, nil
	case c == '.':
		e := skipIdent(b, i+1)
		if e == i+1 {
			return nil, i, errors.New("directive name expected")
		}

		return directive(b[i+1 : e]), e, nil
	case c == '@':
		e := skipIdent(b, i+1)
		if e == i+1 {
			return nil, i, errors.New("symbol name expected")
		}

		return symbol(b[i+1 : e]), e, nil
	case c == '%':
		e := skipIdent(b, i+1)
		if e == i+1 {
			return nil, i, errors.New("register name expected")
		}

		return virt(b[i+1 : e]), e, nil
	case c == '$':
		e := skipIdent(b, i+1)

		n, err := strconv.ParseUint(string(b[i+1:e]), 10, 8)
		if err != nil {
			return nil, i, errors.New("bad register: %q", b[i:e])
		}

		return phys(n), e, nil
	case c == '-' || c >= '0' && c <= '9':
		e := skipIdent(b, i+1)

		n, err := strconv.ParseInt(string(b[i:e]), 0, 64)
		if err != nil {
			return nil, i, errors.New("bad number: %q", b[i:e])
		}

		return number(n), e, nil
	case isIdent(c) && !isDigit(c):
		e := skipIdent(b, i)

		return ident(b[i:e]), e, nil
	default:
		return nil, i, errors.New("unexpected char: %q", c)
	}
}

func skipSpaces(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r') {
		i++
	}

	return i
}

func skipIdent(b []byte, i int) int {
	for i < len(b) && isIdent(b[i]) {
		i++
	}

	return i
}

func isIdent(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) || c == '_'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func describe(t token) string {
	switch t := t.(type) {
	case ident:
		return string(t)
	case directive:
		return "." + string(t)
	case symbol:
		return "@" + string(t)
	case virt:
		return "%" + string(t)
	case phys:
		return "$" + strconv.Itoa(int(t))
	case number:
		return strconv.FormatInt(int64(t), 10)
	case punct:
		return strconv.QuoteRune(rune(t))
	case nil:
		return "end of line"
	default:
		return "?"
	}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
