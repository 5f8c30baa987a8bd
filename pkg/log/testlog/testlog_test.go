package testlog

import (
	"strings"
	"testing"

	"github.com/arithx/update-engine/pkg/log"
)

func TestRecorderCapturesLogfAndDisarmsFatalf(t *testing.T) {
	rec := New(t)

	log.For(log.Activation).Logf("slot %s resolved", "A")
	if !strings.Contains(rec.Buf.String(), "component=activation") {
		t.Errorf("Recorder missed Logf output: %q", rec.Buf.String())
	}
	if rec.Fataled() {
		t.Fatalf("Fataled reported true before any Fatalf call")
	}

	log.For(log.Postinstall).Fatalf("unrecoverable: %s", "disk full")
	if !rec.Fataled() {
		t.Errorf("Fataled reported false after a Fatalf call")
	}
	if !strings.Contains(rec.Buf.String(), "unrecoverable: disk full") {
		t.Errorf("Recorder missed Fatalf message: %q", rec.Buf.String())
	}
}

func TestRecorderIsolatedAcrossTests(t *testing.T) {
	rec := New(t)
	if rec.Buf.Len() != 0 {
		t.Fatalf("fresh Recorder should start empty, got %q", rec.Buf.String())
	}
}
