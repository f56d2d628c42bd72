package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LogEntry is one logical (possibly multi-line) log message.
// It is the record type of the parsed store; identity is (SourceID, SequenceID).
type LogEntry struct {
	SequenceID   int64    `json:"line_id_in_file_header"`
	SourceID     string   `json:"source_file"`
	FullText     string   `json:"original_log_full"`
	Timestamp    string   `json:"timestamp"`
	Level        string   `json:"level"`
	Component    string   `json:"component"`
	TemplateID   string   `json:"event_id"`
	TemplateText string   `json:"event_template"`
	Parameters   []string `json:"parameters"`
}

// Key returns the identity of the entry.
func (e *LogEntry) Key() EntryKey {
	return EntryKey{SourceID: e.SourceID, SequenceID: e.SequenceID}
}

// Validate rejects records that cannot be addressed by the offset index.
func (e *LogEntry) Validate() error {
	if strings.TrimSpace(e.SourceID) == "" {
		return errors.New("log entry: empty source id")
	}
	if e.SequenceID <= 0 {
		return fmt.Errorf("log entry %s: non-positive sequence id %d", e.SourceID, e.SequenceID)
	}
	if e.TemplateID == "" {
		return fmt.Errorf("log entry %s:%d: missing template id", e.SourceID, e.SequenceID)
	}
	return nil
}

// EntryKey identifies a LogEntry across all sources.
type EntryKey struct {
	SourceID   string
	SequenceID int64
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s:%d", k.SourceID, k.SequenceID)
}

// Template is a normalized message pattern shared by many entries.
type Template struct {
	TemplateID      string `json:"template_id"`
	Pattern         string `json:"template_text"`
	Description     string `json:"description"`
	SampleText      string `json:"sample_original_message"`
	SampleLevel     string `json:"sample_level"`
	SampleComponent string `json:"sample_component"`
}

// OffsetIndexEntry maps an entry identity to the byte position of its record
// in the parsed store. It is the record type of the index store.
type OffsetIndexEntry struct {
	SourceID   string `json:"source_file"`
	SequenceID int64  `json:"line_id_in_file_header"`
	ByteOffset int64  `json:"byte_offset"`
}

// Key returns the identity of the indexed entry.
func (o *OffsetIndexEntry) Key() EntryKey {
	return EntryKey{SourceID: o.SourceID, SequenceID: o.SequenceID}
}

// Validate rejects index records that could not have been produced by an append.
func (o *OffsetIndexEntry) Validate() error {
	if strings.TrimSpace(o.SourceID) == "" {
		return errors.New("index entry: empty source id")
	}
	if o.SequenceID <= 0 {
		return fmt.Errorf("index entry %s: non-positive sequence id %d", o.SourceID, o.SequenceID)
	}
	if o.ByteOffset < 0 {
		return fmt.Errorf("index entry %s:%d: negative offset %d", o.SourceID, o.SequenceID, o.ByteOffset)
	}
	return nil
}

// ProblemTask is a queued reference to a classified entry. It is never persisted.
type ProblemTask struct {
	SourceID     string
	SequenceID   int64
	FullText     string
	Timestamp    string
	Level        string
	Component    string
	TemplateID   string
	TemplateText string
	EnqueuedAt   time.Time
}

// NewProblemTask builds a task from a flushed entry.
func NewProblemTask(e *LogEntry) ProblemTask {
	return ProblemTask{
		SourceID:     e.SourceID,
		SequenceID:   e.SequenceID,
		FullText:     e.FullText,
		Timestamp:    e.Timestamp,
		Level:        e.Level,
		Component:    e.Component,
		TemplateID:   e.TemplateID,
		TemplateText: e.TemplateText,
		EnqueuedAt:   time.Now(),
	}
}

// Problem is what a Solver receives: the task plus the entries that preceded it.
type Problem struct {
	Task    ProblemTask `json:"task"`
	Context []LogEntry  `json:"context"`
}

// Sequence retrieval outcomes reported in SolutionFeedback.
const (
	SequenceRetrieved = "retrieved"
	SequenceEmpty     = "empty"
)

// Action is one step of a response plan.
type Action struct {
	StepDescription      string `json:"step_description"`
	ResponsibleTeam      string `json:"responsible_team"`
	ResponsibleComponent string `json:"responsible_module_or_component"`
	SpecificEffect       string `json:"specific_effect_on_problem"`
	ExpectedOutcome      string `json:"expected_outcome_or_status"`
	Type                 string `json:"type"`
}

// SolutionFeedback is the solver's self-assessment plus retrieval bookkeeping.
type SolutionFeedback struct {
	ConfidenceLevel         string `json:"confidence_level"`
	ContextSufficiency      string `json:"context_sufficiency"`
	NeededAdditionalInfo    string `json:"needed_additional_info"`
	SequenceRetrievalStatus string `json:"sequence_retrieval_status"`
	SequenceRetrievedCount  int    `json:"sequence_retrieved_count"`
}

// Solution is the incident response plan produced for one ProblemTask.
type Solution struct {
	ID                   string              `json:"id"`
	SourceID             string              `json:"source_file"`
	SequenceID           int64               `json:"line_id_in_file_header"`
	TemplateID           string              `json:"event_id"`
	TemplateText         string              `json:"event_template"`
	EntryText            string              `json:"original_log_full"`
	Level                string              `json:"level"`
	Summary              string              `json:"summary"`
	Severity             string              `json:"severity"`
	ImpactAssessment     string              `json:"impact_assessment"`
	RootCauseHypothesis  string              `json:"root_cause_hypothesis"`
	AffectedComponents   []string            `json:"affected_components"`
	ResponsePlan         map[string][]Action `json:"response_plan"`
	TemporaryMitigations []string            `json:"temporary_mitigations"`
	Feedback             SolutionFeedback    `json:"llm_analysis_feedback"`
	Solver               string              `json:"solver"`
	CreatedAt            time.Time           `json:"created_at"`
}

// Validate reports whether a solver response is usable.
func (s *Solution) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return errors.New("solution: empty summary")
	}
	if strings.TrimSpace(s.Severity) == "" {
		return errors.New("solution: empty severity")
	}
	return nil
}
