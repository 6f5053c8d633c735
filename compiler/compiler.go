package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/asm"
	"github.com/slowlang/spu/compiler/back"
	"github.com/slowlang/spu/compiler/link"
)

type (
	Result struct {
		File     *asm.File
		Routines []*back.Routine

		Image []byte // nil unless linked
	}
)

func readFile(ctx context.Context, name string) ([]byte, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return text, nil
}

func AnalyzeFile(ctx context.Context, name string, cfg back.Config) (*Result, error) {
	text, err := readFile(ctx, name)
	if err != nil {
		return nil, err
	}

	return Analyze(ctx, name, text, cfg)
}

func CompileFile(ctx context.Context, name string, cfg back.Config) (*Result, error) {
	text, err := readFile(ctx, name)
	if err != nil {
		return nil, err
	}

	return Compile(ctx, name, text, cfg)
}

// Analyze parses the text and schedules and analyzes every routine.
func Analyze(ctx context.Context, name string, text []byte, cfg back.Config) (res *Result, err error) {
	f, err := asm.Parse(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	c := back.New(cfg)

	res = &Result{File: f}

	for _, r := range f.Routines {
		a, err := c.Analyze(ctx, r)
		if err != nil {
			return nil, errors.Wrap(err, "routine %v", r.Name)
		}

		res.Routines = append(res.Routines, a)
	}

	return res, nil
}

// Compile is Analyze followed by linking the image at cfg.Base.
// Routines must only use physical registers.
func Compile(ctx context.Context, name string, text []byte, cfg back.Config) (res *Result, err error) {
	res, err = Analyze(ctx, name, text, cfg)
	if err != nil {
		return nil, err
	}

	err = back.New(cfg).Link(ctx, res.File.Image, link.PhysAlloc)
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}

	res.Image, err = res.File.Image.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "image")
	}

	return res, nil
}
