package logparse

import "testing"

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Standard forms
		{"TRACE", "TRACE"}, {"DEBUG", "DEBUG"}, {"INFO", "INFO"},
		{"WARN", "WARN"}, {"ERROR", "ERROR"}, {"FATAL", "FATAL"},
		// Variants
		{"TRAC", "TRACE"}, {"TRC", "TRACE"},
		{"DEBU", "DEBUG"}, {"DBG", "DEBUG"}, {"DEB", "DEBUG"},
		{"INFORMATION", "INFO"}, {"INF", "INFO"},
		{"WARNING", "WARN"}, {"WRNG", "WARN"}, {"WRN", "WARN"},
		{"ERR", "ERROR"}, {"ERRO", "ERROR"}, {"SEVERE", "ERROR"},
		{"FATL", "FATAL"}, {"FTL", "FATAL"},
		{"CRITICAL", "FATAL"}, {"CRIT", "FATAL"}, {"CRT", "FATAL"},
		{"PANIC", "FATAL"}, {"PNC", "FATAL"},
		// Case insensitive
		{"info", "INFO"}, {"warn", "WARN"}, {"error", "ERROR"},
		// Unknown levels pass through upper-cased
		{"", ""}, {"UNKNOWN", "UNKNOWN"}, {"notice", "NOTICE"},
		// Whitespace
		{"  INFO  ", "INFO"}, {"\tWARN\t", "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeSeverity(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeSeverity(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelSetContains(t *testing.T) {
	set := NewLevelSet([]string{"error", "WARNING", " ", "FATAL"})

	for _, level := range []string{"ERROR", "WARN", "WARNING", "FATAL", "CRITICAL", " error "} {
		if !set.Contains(level) {
			t.Errorf("Contains(%q) = false, want true", level)
		}
	}
	for _, level := range []string{"INFO", "DEBUG", "", "NOTICE"} {
		if set.Contains(level) {
			t.Errorf("Contains(%q) = true, want false", level)
		}
	}
	if len(set) != 3 {
		t.Errorf("len(set) = %d, want 3", len(set))
	}
}
