package main

import (
	"fmt"
	"io"

	"go.bytecodealliance.org/wit"

	"github.com/trimorphdev/cherry/layout"
)

// witLayouts decodes a WIT resolve in JSON form, as printed by
// `wasm-tools component wit --json`, and writes the layout of every named
// type definition. It returns how many of them could not be laid out.
func witLayouts(w io.Writer, r io.Reader, res *layout.Resolver) (int, error) {
	resolve, err := wit.DecodeJSON(r)
	if err != nil {
		return 0, fmt.Errorf("decode wit: %w", err)
	}

	failed := 0
	for _, td := range resolve.TypeDefs {
		name := td.TypeName()
		if name == "" {
			continue
		}
		d, err := witLayout(res, td)
		if err != nil {
			fmt.Fprintf(w, "%s %s\n", titleStyle.Render(name), errorStyle.Render(err.Error()))
			failed++
			continue
		}
		printLayout(w, name, d)
	}
	return failed, nil
}

func witLayout(res *layout.Resolver, td *wit.TypeDef) (*layout.Descriptor, error) {
	t, err := layout.FromWIT(td)
	if err != nil {
		return nil, err
	}
	return res.LayoutOf(t)
}

func printLayout(w io.Writer, name string, d *layout.Descriptor) {
	fmt.Fprintf(w, "%s size %d, align %d\n", titleStyle.Render(name), d.Size, d.Align)
	for _, f := range d.Fields {
		fmt.Fprintf(w, "  %s %-12s %s\n", lineStyle.Render(fmt.Sprintf("+%-3d", f.Offset)), f.Name, f.Desc)
	}
	for _, s := range d.DropPlan {
		fmt.Fprintf(w, "  %s %s at +%d\n", stateStyle.Render("drops"), s.Path, s.Offset)
	}
}
