package ingest

import (
	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/model"
)

// Processor turns physical lines into normalized, template-tagged entries.
// It is not safe for concurrent use; the registry it writes to is.
type Processor struct {
	assembler  *Assembler
	normalizer *Normalizer
	registry   *Registry

	// OnTemplate, when set, is called for every newly registered template.
	OnTemplate func(model.Template)
}

// NewProcessor wires an assembler, normalizer and registry together.
func NewProcessor(parser *logparse.HeaderParser, normalizer *Normalizer, registry *Registry) *Processor {
	return &Processor{
		assembler:  NewAssembler(parser),
		normalizer: normalizer,
		registry:   registry,
	}
}

// Assembler exposes the underlying assembler for checkpointing and hooks.
func (p *Processor) Assembler() *Assembler { return p.assembler }

// ProcessEnvelope consumes one raw line and returns the entry it completed,
// or nil while an entry is still being accumulated.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *model.LogEntry {
	done, ok := p.assembler.Feed(env)
	if !ok {
		return nil
	}
	return p.build(done)
}

// Flush completes the open entry at end of input.
func (p *Processor) Flush() *model.LogEntry {
	done, ok := p.assembler.Flush()
	if !ok {
		return nil
	}
	return p.build(done)
}

// Reset discards the open entry, typically between sources.
func (p *Processor) Reset() {
	p.assembler.Reset()
}

func (p *Processor) build(pending *Pending) *model.LogEntry {
	full := pending.FullText()
	template, params := p.normalizer.Normalize(pending.Header.Content)
	level := pending.Header.Level

	id, created := p.registry.Resolve(template, full, level, pending.Header.Component)
	if created && p.OnTemplate != nil {
		if t, ok := p.registry.Lookup(template); ok {
			p.OnTemplate(t)
		}
	}

	if params == nil {
		params = []string{}
	}
	return &model.LogEntry{
		SequenceID:   pending.SequenceID,
		SourceID:     pending.SourceID,
		FullText:     full,
		Timestamp:    pending.Header.Timestamp,
		Level:        level,
		Component:    pending.Header.Component,
		TemplateID:   id,
		TemplateText: template,
		Parameters:   params,
	}
}
