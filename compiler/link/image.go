package link

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/spu/compiler/ir"
	"github.com/slowlang/spu/compiler/spu"
)

type (
	// Symbol is a named reference bound to an Object when it's added to the Image.
	Symbol struct {
		name string
		obj  Object
	}

	// Image is a set of objects laid out one after another.
	Image struct {
		objs []Object
		syms map[string]*Symbol
		refs []*Symbol // in order of the first reference

		base int
		end  int
		laid bool
	}
)

func NewImage() *Image {
	return &Image{
		syms: map[string]*Symbol{},
	}
}

// Ref returns the symbol for name, bound or not.
func (m *Image) Ref(name string) *Symbol {
	s, ok := m.syms[name]
	if !ok {
		s = &Symbol{name: name}
		m.syms[name] = s
		m.refs = append(m.refs, s)
	}

	return s
}

// Add appends o to the image and binds its symbol.
func (m *Image) Add(o Object) error {
	if m.laid {
		return &LayoutError{Object: o.Name(), Offset: NoOffset, Reason: "image is already laid out"}
	}

	s := m.Ref(o.Name())
	if s.obj != nil {
		return &LayoutError{Object: o.Name(), Offset: NoOffset, Reason: "duplicate symbol"}
	}

	s.obj = o
	m.objs = append(m.objs, o)

	return nil
}

// Object finds a bound object by name.
func (m *Image) Object(name string) (Object, bool) {
	s, ok := m.syms[name]
	if !ok || s.obj == nil {
		return nil, false
	}

	return s.obj, true
}

func (m *Image) Objects() []Object { return m.objs }

// Layout assigns offsets starting at base in the order objects were added.
func (m *Image) Layout(ctx context.Context, base int) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "layout", "base", base, "objects", len(m.objs))
	defer tr.Finish("err", &err)

	for _, s := range m.refs {
		if s.obj == nil {
			return &LayoutError{Object: s.name, Offset: NoOffset, Reason: "undefined symbol"}
		}
	}

	off := base

	for _, o := range m.objs {
		err = o.SetOffset(off)
		if err != nil {
			return err
		}

		if tr.If("dump_layout") {
			tr.Printw("object", "name", o.Name(), "off", off, "size", o.Size())
		}

		off += alignUp(o.Size())
	}

	m.base = base
	m.end = off
	m.laid = true

	return nil
}

// Patch resolves references of every object.
func (m *Image) Patch(ctx context.Context) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "patch", "objects", len(m.objs))
	defer tr.Finish("err", &err)

	if !m.laid {
		return errors.New("patch before layout")
	}

	for _, o := range m.objs {
		p, ok := o.(Patcher)
		if !ok {
			continue
		}

		err = p.PerformAddressPatching()
		if err != nil {
			return errors.Wrap(err, "object %v", o.Name())
		}
	}

	return nil
}

func (m *Image) Base() int { return m.base }

func (m *Image) Size() int { return m.end - m.base }

// Bytes returns the image contents starting at Base.
func (m *Image) Bytes() ([]byte, error) {
	if !m.laid {
		return nil, errors.New("image is not laid out")
	}

	b := make([]byte, m.Size())

	for _, o := range m.objs {
		data := o.Bytes()

		if len(data) != o.Size() {
			return nil, &LayoutError{Object: o.Name(), Offset: o.Offset(), Reason: "emitted size differs from reserved"}
		}

		copy(b[o.Offset()-m.base:], data)
	}

	return b, nil
}

// Listing concatenates listings of code objects.
func (m *Image) Listing() (lines []spu.Line) {
	for _, o := range m.objs {
		if l, ok := o.(Lister); ok {
			lines = append(lines, l.Listing()...)
		}
	}

	return lines
}

func (s *Symbol) Name() string { return s.name }

// Object returns the bound object or nil.
func (s *Symbol) Object() Object { return s.obj }

func (s *Symbol) Offset() int {
	if s.obj == nil {
		return NoOffset
	}

	return s.obj.Offset()
}

// NumParams makes calls through the symbol see the callee's parameters.
func (s *Symbol) NumParams() (int, bool) {
	c, ok := s.obj.(ir.Callee)
	if !ok {
		return 0, false
	}

	return c.NumParams()
}
