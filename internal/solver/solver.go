// Package solver holds the Solver collaborators the worker pool hands
// problems to.
package solver

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/triage/internal/model"
)

// Names accepted by New.
const (
	NameLocal = "local"
	NameHTTP  = "http"
)

// Config selects and configures a solver.
type Config struct {
	Name    string
	URL     string
	Timeout time.Duration
}

// New builds the solver named by conf.Name. An empty name selects the local solver.
func New(conf Config) (model.Solver, error) {
	switch strings.ToLower(strings.TrimSpace(conf.Name)) {
	case "", NameLocal:
		return NewLocal(), nil
	case NameHTTP:
		return NewHTTP(conf.URL, conf.Timeout)
	default:
		return nil, fmt.Errorf("solver: unknown solver %q (want %s or %s)", conf.Name, NameLocal, NameHTTP)
	}
}
