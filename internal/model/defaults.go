package model

import "time"

// Shared defaults used by the pipeline packages and the CLI.
const (
	DefaultContextWindow        = 10
	DefaultOverReadMargin       = 5
	DefaultQueueCapacity        = 256
	DefaultWorkers              = 2
	DefaultDequeueTimeout       = time.Second
	DefaultTemplateSaveInterval = 100_000
	DefaultTemplateIDPrefix     = "HDFS_"
	DefaultTemplateDescription  = "Auto-generated template (Needs human review)"
)

// DefaultInterestingLevels are the severities that become ProblemTasks.
var DefaultInterestingLevels = []string{"ERROR", "WARN", "FATAL"}

// DefaultSourcePatterns select raw source files under the source directory.
var DefaultSourcePatterns = []string{"*.log", "*.txt"}
