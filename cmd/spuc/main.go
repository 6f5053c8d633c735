package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler"
	"github.com/slowlang/spu/compiler/back"
	"github.com/slowlang/spu/compiler/format"
	"github.com/slowlang/spu/compiler/spu"
)

func main() {
	catalogCmd := &cli.Command{
		Name:        "catalog",
		Description: "check and print the opcode catalog",
		Action:      catalogAct,
	}

	schedCmd := &cli.Command{
		Name:        "sched",
		Description: "print routines in scheduled order",
		Action:      schedAct,
		Args:        cli.Args{},
	}

	liveCmd := &cli.Command{
		Name:        "live",
		Description: "print live intervals or the interference graph",
		Action:      liveAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("dataflow", false, "full dataflow analysis instead of linear intervals"),
		},
	}

	asmCmd := &cli.Command{
		Name:        "asm",
		Description: "assemble, lay out and patch an image",
		Action:      asmAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("out,o", "", "write the binary image to the file"),
			cli.NewFlag("base", 0, "image load address"),
		},
	}

	app := &cli.Command{
		Name:        "spuc",
		Description: "spuc is an SPU assembler with an instruction scheduler and liveness analysis",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("no-sched", false, "keep source instruction order"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			catalogCmd,
			schedCmd,
			liveCmd,
			asmCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func config(c *cli.Command) back.Config {
	cfg := back.DefaultConfig()

	cfg.Schedule = !c.Bool("no-sched")

	return cfg
}

func catalogAct(c *cli.Command) (err error) {
	err = spu.CheckCatalog()
	if err != nil {
		return errors.Wrap(err, "catalog")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"op", "format", "pattern", "pipe", "latency", "reloc", "features"})

	for _, op := range spu.Ops() {
		o := spu.Get(op)

		pattern := "-"
		if o.Format != spu.Custom {
			pattern = fmt.Sprintf("%#x", o.Pattern)
		}

		t.AppendRow(table.Row{o.Name, o.Format, pattern, o.Pipe, o.Latency, o.Reloc, o.Features})
	}

	t.Render()

	return nil
}

func schedAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	cfg := config(c)
	cfg.Liveness = back.NoLiveness

	for _, a := range c.Args {
		res, err := compiler.AnalyzeFile(ctx, a, cfg)
		if err != nil {
			return errors.Wrap(err, "analyze %v", a)
		}

		b, err := format.Format(ctx, nil, res.File)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func liveAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	cfg := config(c)
	cfg.Liveness = back.Intervals

	if c.Bool("dataflow") {
		cfg.Liveness = back.Dataflow
	}

	for _, a := range c.Args {
		res, err := compiler.AnalyzeFile(ctx, a, cfg)
		if err != nil {
			return errors.Wrap(err, "analyze %v", a)
		}

		for _, r := range res.Routines {
			if cfg.Liveness == back.Dataflow {
				err = printDataflow(r)
			} else {
				printIntervals(r)
			}

			if err != nil {
				return errors.Wrap(err, "routine %v", r.Name)
			}
		}
	}

	return nil
}

func printIntervals(r *back.Routine) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%v", r.Name)
	t.AppendHeader(table.Row{"reg", "start", "end"})

	for _, v := range r.Intervals {
		t.AppendRow(table.Row{r.RegName(v.Reg), v.Start, v.End})
	}

	t.Render()
}

func printDataflow(r *back.Routine) error {
	b := fmt.Appendf(nil, "%v: converged in %d passes\n", r.Name, r.Passes)

	b, err := format.Dataflow(b, r.Flow)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(b)
	if err != nil {
		return errors.Wrap(err, "write")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%v: %d interference edges", r.Name, r.Interference.Edges())
	t.AppendHeader(table.Row{"reg", "interferes with"})

	for _, reg := range r.Interference.Regs() {
		var row []byte

		for i, n := range r.Interference.Neighbours(reg) {
			if i != 0 {
				row = append(row, ' ')
			}

			row = append(row, r.RegName(n)...)
		}

		t.AppendRow(table.Row{r.RegName(reg), string(row)})
	}

	t.Render()

	return nil
}

func asmAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	cfg := config(c)
	cfg.Liveness = back.NoLiveness
	cfg.Base = c.Int("base")

	for _, a := range c.Args {
		res, err := compiler.CompileFile(ctx, a, cfg)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.SetTitle("%v: %d bytes at %#x", a, len(res.Image), res.File.Image.Base())
		t.AppendHeader(table.Row{"offset", "word", "op", "operands", "target"})

		for _, l := range res.File.Image.Listing() {
			ops := ""

			for i, o := range l.Operands() {
				if i != 0 {
					ops += ", "
				}

				ops += o
			}

			t.AppendRow(table.Row{fmt.Sprintf("%06x", l.Offset), fmt.Sprintf("%08x", l.Word), l.Mnemonic(), ops, l.Target})
		}

		t.Render()

		if out := c.String("out"); out != "" {
			err = os.WriteFile(out, res.Image, 0o644)
			if err != nil {
				return errors.Wrap(err, "write image")
			}

			tlog.Printw("image written", "file", out, "size", len(res.Image))
		}
	}

	return nil
}
