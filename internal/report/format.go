// Package report renders solutions as human-readable incident reports.
package report

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tinytelemetry/triage/internal/model"
)

const (
	rule           = "----------------------------------------"
	snippetLength  = 500
	notApplicable  = "N/A"
	recordTrailing = "---\n"
)

// Header renders the diagnostic preamble written before each plan.
func Header(sol *model.Solution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- Analyzing Entry (ID: %s, Level: %s, Source: %s:%d) ---\n",
		na(sol.TemplateID), na(sol.Level), na(sol.SourceID), sol.SequenceID)
	fmt.Fprintf(&b, "Event Template: %s\n", na(sol.TemplateText))
	fmt.Fprintf(&b, "Original Full Log Snippet:\n%s...\n", truncate(sol.EntryText, snippetLength))
	fmt.Fprintf(&b, "Sequence analysis result: %s (%d entries retrieved)\n",
		na(sol.Feedback.SequenceRetrievalStatus), sol.Feedback.SequenceRetrievedCount)
	fmt.Fprintf(&b, "Solver: %s\n\n", na(sol.Solver))
	return b.String()
}

// Format renders the incident response plan of sol.
func Format(sol *model.Solution) string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	add("--- INCIDENT RESPONSE PLAN ---")
	add("Incident Summary: %s", na(sol.Summary))
	add("Severity: %s", na(sol.Severity))
	add("Impact Assessment: %s", na(sol.ImpactAssessment))
	components := notApplicable
	if len(sol.AffectedComponents) > 0 {
		components = strings.Join(sol.AffectedComponents, ", ")
	}
	add("Affected Components: %s", components)
	add(rule)

	add("Root Cause Hypothesis:")
	add("  %s", na(sol.RootCauseHypothesis))
	add(rule)

	if len(sol.ResponsePlan) > 0 {
		add("Response Plan:")
		teams := make([]string, 0, len(sol.ResponsePlan))
		for team := range sol.ResponsePlan {
			teams = append(teams, team)
		}
		sort.Strings(teams)
		for _, team := range teams {
			add("\n  %s ", titleCase(strings.ReplaceAll(team, "_", " ")))
			actions := sol.ResponsePlan[team]
			if len(actions) == 0 {
				add("    No actions specified.")
				continue
			}
			for i, a := range actions {
				add("    %d. %s", i+1, na(a.StepDescription))
				add("       - Responsible Team: %s", na(a.ResponsibleTeam))
				add("       - Component: %s", na(a.ResponsibleComponent))
				add("       - Effect on Problem: %s", na(a.SpecificEffect))
				add("       - Expected Outcome: %s", na(a.ExpectedOutcome))
				add("       - Type: %s", na(a.Type))
			}
		}
	} else {
		add("No response plan provided.")
	}
	add(rule)

	add("Temporary Mitigations:")
	if len(sol.TemporaryMitigations) == 0 {
		add("  None specified.")
	}
	for i, m := range sol.TemporaryMitigations {
		add("  %d. %s", i+1, m)
	}
	add(rule)

	fb := sol.Feedback
	add("Analysis Feedback:")
	add("  Confidence Level: %s", na(fb.ConfidenceLevel))
	add("  Context Sufficiency: %s", na(fb.ContextSufficiency))
	add("  Needed Additional Info: %s", na(fb.NeededAdditionalInfo))
	add("  Sequence Retrieval Status: %s (%d entries)", na(fb.SequenceRetrievalStatus), fb.SequenceRetrievedCount)
	add(rule)

	return strings.Join(out, "\n")
}

// Record renders the full report block for one solution: header, plan and separator.
func Record(sol *model.Solution) string {
	return Header(sol) + Format(sol) + "\n" + recordTrailing
}

func na(s string) string {
	if strings.TrimSpace(s) == "" {
		return notApplicable
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
