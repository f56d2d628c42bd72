package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/tinytelemetry/triage/internal/model"
)

// TemplateID derives the stable identifier of a template: prefix followed by
// the first 8 hex digits (upper case) of the MD5 of the template text.
func TemplateID(prefix, template string) string {
	sum := md5.Sum([]byte(template))
	return prefix + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

// Registry assigns template ids and remembers the first sample of each
// template. The orchestrator is the only writer; readers may run concurrently.
type Registry struct {
	mu      sync.RWMutex
	prefix  string
	byText  map[string]*model.Template
	pending []string // template texts created since the last TakePending
}

// NewRegistry creates an empty registry. An empty prefix selects the default.
func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = model.DefaultTemplateIDPrefix
	}
	return &Registry{
		prefix: prefix,
		byText: make(map[string]*model.Template),
	}
}

// Resolve returns the id of template, registering it with the given sample on
// first sight. created reports whether the template is new.
func (r *Registry) Resolve(template, sampleText, sampleLevel, sampleComponent string) (id string, created bool) {
	r.mu.RLock()
	t, ok := r.byText[template]
	r.mu.RUnlock()
	if ok {
		return t.TemplateID, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byText[template]; ok {
		return t.TemplateID, false
	}
	t = &model.Template{
		TemplateID:      TemplateID(r.prefix, template),
		Pattern:         template,
		Description:     model.DefaultTemplateDescription,
		SampleText:      sampleText,
		SampleLevel:     sampleLevel,
		SampleComponent: sampleComponent,
	}
	r.byText[template] = t
	r.pending = append(r.pending, template)
	return t.TemplateID, true
}

// Lookup returns the template registered for text.
func (r *Registry) Lookup(template string) (model.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byText[template]
	if !ok {
		return model.Template{}, false
	}
	return *t, true
}

// Len returns the number of known templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byText)
}

// List returns a copy of every template sorted by id.
func (r *Registry) List() []model.Template {
	r.mu.RLock()
	out := make([]model.Template, 0, len(r.byText))
	for _, t := range r.byText {
		out = append(out, *t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TemplateID == out[j].TemplateID {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	return out
}

// TakePending returns the templates created since the previous call, in
// creation order, and forgets them.
func (r *Registry) TakePending() []model.Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Template, 0, len(r.pending))
	for _, text := range r.pending {
		out = append(out, *r.byText[text])
	}
	r.pending = nil
	return out
}

// Load seeds the registry from a snapshot. Loaded templates are not pending.
func (r *Registry) Load(templates []model.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range templates {
		t := templates[i]
		if _, ok := r.byText[t.Pattern]; ok {
			continue
		}
		r.byText[t.Pattern] = &t
	}
}

// Replay rebuilds templates from stored entries in order, keeping the first
// sample seen for each template. Entries carry their own ids, so replay does
// not depend on the current prefix.
func (r *Registry) Replay(entries ...model.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if _, ok := r.byText[e.TemplateText]; ok {
			continue
		}
		r.byText[e.TemplateText] = &model.Template{
			TemplateID:      e.TemplateID,
			Pattern:         e.TemplateText,
			Description:     model.DefaultTemplateDescription,
			SampleText:      e.FullText,
			SampleLevel:     e.Level,
			SampleComponent: e.Component,
		}
	}
}
