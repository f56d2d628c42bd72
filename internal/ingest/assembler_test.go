package ingest

import (
	"testing"

	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/model"
)

func feedLines(a *Assembler, source string, lines []string) []*Pending {
	var out []*Pending
	var offset int64
	for i, line := range lines {
		env := model.IngestEnvelope{Source: source, LineNo: int64(i + 1), Offset: offset, Line: line}
		offset += int64(len(line) + 1)
		if p, ok := a.Feed(env); ok {
			out = append(out, p)
		}
	}
	if p, ok := a.Flush(); ok {
		out = append(out, p)
	}
	return out
}

func TestAssemblerMultiLine(t *testing.T) {
	t.Parallel()
	a := NewAssembler(logparse.MustHeaderParser(""))

	got := feedLines(a, "app.log", []string{
		"2024-01-01 00:00:00,000 ERROR C: start",
		"  at x",
		"  at y",
		"2024-01-01 00:00:01,000 INFO C: next",
	})

	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].SequenceID != 1 || got[0].Lines() != 3 {
		t.Errorf("first entry seq=%d lines=%d, want seq=1 lines=3", got[0].SequenceID, got[0].Lines())
	}
	if want := "2024-01-01 00:00:00,000 ERROR C: start\n  at x\n  at y"; got[0].FullText() != want {
		t.Errorf("first FullText = %q, want %q", got[0].FullText(), want)
	}
	if got[0].Header.Level != "ERROR" || got[0].Header.Content != "start" {
		t.Errorf("first header = %+v", got[0].Header)
	}
	if got[1].SequenceID != 4 || got[1].Lines() != 1 {
		t.Errorf("second entry seq=%d lines=%d, want seq=4 lines=1", got[1].SequenceID, got[1].Lines())
	}
	if got[1].Offset == 0 {
		t.Error("second entry offset should point past the first three lines")
	}
}

func TestAssemblerOrphanAndBlankLines(t *testing.T) {
	t.Parallel()
	a := NewAssembler(logparse.MustHeaderParser(""))
	var orphans []model.IngestEnvelope
	a.OnOrphan = func(env model.IngestEnvelope) { orphans = append(orphans, env) }

	got := feedLines(a, "app.log", []string{
		"",
		"  stray continuation",
		"2024-01-01 00:00:00,000 WARN C: disk low",
		"",
		"   ",
	})

	if len(orphans) != 1 || orphans[0].LineNo != 2 {
		t.Fatalf("orphans = %+v, want one at line 2", orphans)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	if got[0].SequenceID != 3 {
		t.Errorf("seq = %d, want 3 (blank lines keep numbering)", got[0].SequenceID)
	}
	if got[0].FullText() != "2024-01-01 00:00:00,000 WARN C: disk low" {
		t.Errorf("FullText = %q, trailing blank lines should be trimmed", got[0].FullText())
	}
}

func TestAssemblerFlushOnceAndReset(t *testing.T) {
	t.Parallel()
	a := NewAssembler(logparse.MustHeaderParser(""))

	a.Feed(model.IngestEnvelope{Source: "a", LineNo: 1, Line: "2024-01-01 00:00:00,000 INFO C: x"})
	if p, ok := a.Open(); !ok || p.SequenceID != 1 {
		t.Fatalf("Open() = %v, %v", p, ok)
	}
	if _, ok := a.Flush(); !ok {
		t.Fatal("first Flush should emit the open entry")
	}
	if _, ok := a.Flush(); ok {
		t.Fatal("second Flush should emit nothing")
	}

	a.Feed(model.IngestEnvelope{Source: "a", LineNo: 2, Line: "2024-01-01 00:00:00,000 INFO C: y"})
	a.Reset()
	if _, ok := a.Open(); ok {
		t.Fatal("Reset should drop the open entry")
	}
}
