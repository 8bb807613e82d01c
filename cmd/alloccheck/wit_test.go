package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/trimorphdev/cherry/layout"
)

const witJSON = `{
  "types": [
    {"name": "point", "kind": {"record": {"fields": [
      {"name": "x", "type": "u32"},
      {"name": "label", "type": "string"}
    ]}}},
    {"kind": {"list": "u64"}},
    {"name": "bag", "kind": {"record": {"fields": [
      {"name": "items", "type": 1},
      {"name": "count", "type": "u8"}
    ]}}},
    {"name": "maybe", "kind": {"option": "u32"}}
  ]
}`

func TestWITLayouts(t *testing.T) {
	var buf bytes.Buffer
	failed, err := witLayouts(&buf, strings.NewReader(witJSON), layout.NewResolver(nil))
	if err != nil {
		t.Fatal(err)
	}
	if failed != 1 {
		t.Errorf("failed: got %d, want 1 (option)", failed)
	}

	out := buf.String()
	for _, want := range []string{"point", "bag", "size 12, align 4", "label", "items", "drops", "maybe"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "drops"); got != 2 {
		t.Errorf("drop steps: got %d, want 2:\n%s", got, out)
	}
}
