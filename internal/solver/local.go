package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/model"
)

// Local is an offline solver that derives a response plan from the entry and
// its context window alone. It never fails on a well-formed problem.
type Local struct{}

// NewLocal returns the offline solver.
func NewLocal() *Local { return &Local{} }

func (*Local) Name() string { return NameLocal }

// Solve builds a plan from the problem's level, component and the severities
// seen in its context window.
func (l *Local) Solve(ctx context.Context, p model.Problem) (*model.Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task := p.Task
	level := logparse.NormalizeSeverity(task.Level)

	var precursors []model.LogEntry
	for _, e := range p.Context {
		switch logparse.NormalizeSeverity(e.Level) {
		case "WARN", "ERROR", "FATAL":
			precursors = append(precursors, e)
		}
	}

	summary := task.TemplateText
	if summary == "" {
		summary = firstLine(task.FullText)
	}

	sol := &model.Solution{
		Summary:              fmt.Sprintf("%s in %s: %s", level, orNA(task.Component), summary),
		Severity:             severityFor(level),
		ImpactAssessment:     impactFor(level, len(precursors)),
		RootCauseHypothesis:  rootCause(task, precursors),
		AffectedComponents:   affectedComponents(task, p.Context),
		TemporaryMitigations: mitigations(level),
		Feedback: model.SolutionFeedback{
			ConfidenceLevel:    confidence(len(p.Context), len(precursors)),
			ContextSufficiency: sufficiency(len(p.Context)),
		},
	}
	if sol.Feedback.ContextSufficiency != "Sufficient" {
		sol.Feedback.NeededAdditionalInfo = "Earlier entries from the same source and metrics for " + orNA(task.Component)
	}
	sol.ResponsePlan = map[string][]model.Action{
		"operations_team": {{
			StepDescription:      "Inspect the health of " + orNA(task.Component) + " around " + orNA(task.Timestamp),
			ResponsibleTeam:      "Operations",
			ResponsibleComponent: orNA(task.Component),
			SpecificEffect:       "Confirms whether the condition is still present",
			ExpectedOutcome:      "No new entries matching template " + orNA(task.TemplateID),
			Type:                 "Investigation",
		}},
	}
	if level == "FATAL" || level == "ERROR" {
		sol.ResponsePlan["development_team"] = []model.Action{{
			StepDescription:      "Review recent changes touching " + orNA(task.Component),
			ResponsibleTeam:      "Development",
			ResponsibleComponent: orNA(task.Component),
			SpecificEffect:       "Identifies a code or configuration regression behind the failure",
			ExpectedOutcome:      "Root cause confirmed or ruled out",
			Type:                 "Root Cause Analysis",
		}}
	}
	return sol, nil
}

func severityFor(level string) string {
	switch level {
	case "FATAL":
		return "Critical"
	case "ERROR":
		return "High"
	case "WARN":
		return "Medium"
	default:
		return "Low"
	}
}

func impactFor(level string, precursors int) string {
	base := map[string]string{
		"FATAL": "A component terminated or cannot continue; dependent services are likely affected.",
		"ERROR": "An operation failed; requests handled by this component may be degraded.",
		"WARN":  "A degraded condition was reported; no failure observed yet.",
	}[level]
	if base == "" {
		base = "Informational condition with no expected user impact."
	}
	if precursors > 0 {
		base += fmt.Sprintf(" %d related warning or error entries preceded it.", precursors)
	}
	return base
}

func rootCause(task model.ProblemTask, precursors []model.LogEntry) string {
	if len(precursors) == 0 {
		return "No preceding warnings in the retrieved window; the condition appears isolated to " + orNA(task.Component) + "."
	}
	last := precursors[len(precursors)-1]
	return fmt.Sprintf("Likely a consequence of the earlier %s in %s (line %d): %s",
		logparse.NormalizeSeverity(last.Level), orNA(last.Component), last.SequenceID, firstLine(last.FullText))
}

func affectedComponents(task model.ProblemTask, window []model.LogEntry) []string {
	seen := map[string]struct{}{}
	if task.Component != "" {
		seen[task.Component] = struct{}{}
	}
	for _, e := range window {
		if e.Component != "" {
			seen[e.Component] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func mitigations(level string) []string {
	switch level {
	case "FATAL":
		return []string{"Restart the failed component", "Fail over traffic to a healthy replica"}
	case "ERROR":
		return []string{"Retry the failed operation", "Watch the error rate for this template"}
	default:
		return []string{"Monitor for escalation"}
	}
}

func confidence(window, precursors int) string {
	switch {
	case window == 0:
		return "Low"
	case precursors > 0:
		return "Medium"
	default:
		return "Low"
	}
}

func sufficiency(window int) string {
	switch {
	case window == 0:
		return "Insufficient"
	case window < model.DefaultContextWindow:
		return "Partially Sufficient"
	default:
		return "Sufficient"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
