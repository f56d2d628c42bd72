package logsource

import "github.com/tinytelemetry/triage/internal/model"

// LogSource is a stream of physical lines from one raw input.
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of log lines, closed at end of input
	Err() error                         // read error, valid once Lines is closed
	Stop()                              // graceful shutdown
	Name() string                       // source id
}
