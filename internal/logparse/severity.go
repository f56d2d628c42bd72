package logparse

import "strings"

// NormalizeSeverity converts common severity spellings to consistent all caps short forms.
// Unknown levels are returned upper-cased and trimmed rather than guessed.
func NormalizeSeverity(severity string) string {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC", "FINEST", "FINER":
		return "TRACE"
	case "DEBUG", "DEBU", "DBG", "DEB", "FINE":
		return "DEBUG"
	case "INFO", "INFORMATION", "INF":
		return "INFO"
	case "WARN", "WARNING", "WRNG", "WRN":
		return "WARN"
	case "ERROR", "ERR", "ERRO", "SEVERE":
		return "ERROR"
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT":
		return "FATAL"
	case "PANIC", "PNC":
		return "FATAL"
	default:
		return normalized
	}
}

// LevelSet is a set of normalized severities.
type LevelSet map[string]struct{}

// NewLevelSet normalizes levels and drops blanks.
func NewLevelSet(levels []string) LevelSet {
	set := make(LevelSet, len(levels))
	for _, l := range levels {
		n := NormalizeSeverity(l)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Contains reports whether level, once normalized, is in the set.
func (s LevelSet) Contains(level string) bool {
	_, ok := s[NormalizeSeverity(level)]
	return ok
}
