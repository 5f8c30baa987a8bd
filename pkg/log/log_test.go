package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogfTagsComponentAsStructuredField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	defer SetOutput(&buf, false) // avoid leaking stderr writes into later tests in this package

	For(Download).Logf("chunk %d of %d", 3, 10)

	out := buf.String()
	if !strings.Contains(out, "component=download") {
		t.Errorf("output missing component field: %q", out)
	}
	if !strings.Contains(out, "chunk 3 of 10") {
		t.Errorf("output missing formatted message: %q", out)
	}
}

func TestSetOutputJSONEmitsOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, true)
	defer SetOutput(&buf, false)

	For(Service).Logf("first")
	For(Service).Logf("second")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	for _, l := range lines {
		if !strings.Contains(l, `"component":"service"`) {
			t.Errorf("JSON line missing component field: %s", l)
		}
	}
}

func TestDistinctComponentsAreIndependentHandles(t *testing.T) {
	a := For(Activation)
	b := For(Block)
	if a.component == b.component {
		t.Fatalf("Activation and Block handles must carry distinct components")
	}
}
