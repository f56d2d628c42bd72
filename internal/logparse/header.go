package logparse

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultHeaderPattern matches `DATE TIME LEVEL COMPONENT: CONTENT` headers such as
// `2015-10-18 18:01:47,978 INFO org.apache.Foo[main]: message`.
const DefaultHeaderPattern = `^(?P<Date>\d{4}-\d{2}-\d{2})\s(?P<Time>\d{2}:\d{2}:\d{2},\d{3})\s(?P<Level>[A-Z]+)\s(?P<Component>[\w\._-]+(?:\[[\w\s\.-]+\])?):?\s+(?P<Content>.*)$`

var requiredGroups = []string{"Date", "Time", "Level", "Component", "Content"}

// Header holds the fields extracted from a header line.
type Header struct {
	Timestamp string
	Level     string
	Component string
	Content   string
}

// HeaderParser recognizes the first physical line of a logical entry.
type HeaderParser struct {
	re  *regexp.Regexp
	idx map[string]int
}

// NewHeaderParser compiles pattern, which must define the named groups
// Date, Time, Level, Component and Content. An empty pattern selects the default.
func NewHeaderParser(pattern string) (*HeaderParser, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultHeaderPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("logparse: compile header pattern: %w", err)
	}
	idx := make(map[string]int, len(requiredGroups))
	for _, name := range requiredGroups {
		i := re.SubexpIndex(name)
		if i < 0 {
			return nil, fmt.Errorf("logparse: header pattern lacks named group %q", name)
		}
		idx[name] = i
	}
	return &HeaderParser{re: re, idx: idx}, nil
}

// MustHeaderParser is NewHeaderParser for patterns known to be valid.
func MustHeaderParser(pattern string) *HeaderParser {
	p, err := NewHeaderParser(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse returns the header fields of line, or false when line is not a header
// (a continuation or malformed line).
func (p *HeaderParser) Parse(line string) (Header, bool) {
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return Header{}, false
	}
	return Header{
		Timestamp: m[p.idx["Date"]] + " " + m[p.idx["Time"]],
		Level:     m[p.idx["Level"]],
		Component: m[p.idx["Component"]],
		Content:   strings.TrimSpace(m[p.idx["Content"]]),
	}, true
}
