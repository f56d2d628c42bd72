package ingest

import (
	"strings"

	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/model"
)

// Pending is a logical entry being reassembled from physical lines.
type Pending struct {
	SourceID   string
	SequenceID int64 // line number of the header line
	Offset     int64 // raw byte offset of the header line
	Header     logparse.Header
	lines      []string
}

// FullText joins the physical lines with "\n" and trims surrounding whitespace.
func (p *Pending) FullText() string {
	return strings.TrimSpace(strings.Join(p.lines, "\n"))
}

// Lines returns the number of physical lines in the entry.
func (p *Pending) Lines() int { return len(p.lines) }

// Assembler groups header lines and their continuation lines into logical
// entries. An entry is emitted when the next header arrives or on Flush.
type Assembler struct {
	parser *logparse.HeaderParser
	open   *Pending

	// OnOrphan, when set, is called for non-blank continuation lines that
	// arrive before any header. Such lines are discarded.
	OnOrphan func(model.IngestEnvelope)
}

// NewAssembler creates an assembler recognizing headers with parser.
func NewAssembler(parser *logparse.HeaderParser) *Assembler {
	return &Assembler{parser: parser}
}

// Feed consumes one physical line. It returns the previously open entry when
// env starts a new one.
func (a *Assembler) Feed(env model.IngestEnvelope) (*Pending, bool) {
	if header, ok := a.parser.Parse(env.Line); ok {
		done := a.open
		a.open = &Pending{
			SourceID:   env.Source,
			SequenceID: env.LineNo,
			Offset:     env.Offset,
			Header:     header,
			lines:      []string{env.Line},
		}
		return done, done != nil
	}

	if a.open != nil {
		a.open.lines = append(a.open.lines, env.Line)
		return nil, false
	}

	if strings.TrimSpace(env.Line) != "" && a.OnOrphan != nil {
		a.OnOrphan(env)
	}
	return nil, false
}

// Flush emits the open entry, if any. It is called once at end of input.
func (a *Assembler) Flush() (*Pending, bool) {
	done := a.open
	a.open = nil
	return done, done != nil
}

// Open returns the entry currently being buffered without flushing it.
func (a *Assembler) Open() (*Pending, bool) {
	return a.open, a.open != nil
}

// Reset drops any buffered entry.
func (a *Assembler) Reset() {
	a.open = nil
}
