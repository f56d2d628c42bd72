package ingest

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule replaces every match of Pattern with Replacement.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// defaultRuleSpecs are the HDFS/Hadoop rules, most specific first. The bare
// number rule must stay last.
var defaultRuleSpecs = []ruleSpec{
	{"ip_address", `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d+)?\b`, "<IP_ADDRESS>"},
	{"hdfs_id", `\b(?:blk_|BP-|DS-)[-_a-zA-Z0-9]+\b`, "<HDFS_ID>"},
	{"hostname", `\b(?:mesos-master-\d+|nodename \d+@mesos-master-\d+|localhost)\b`, "<HOSTNAME_OR_NODE>"},
	{"uuid", `\b([a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12})\b`, "<UUID>"},
	{"hadoop_path", `\b(?:/usr/local/hadoop|/opt/hdfs/data|/[a-zA-Z0-9/\._-]+/\.jar)[\w\/\.-]*\b`, "<HADOOP_PATH>"},
	{"jar_file", `[-_a-zA-Z0-9]+\.jar`, "<JAR_FILE>"},
	{"version_info", `\b(?:version|build)\s*=\s*[\w\.\-]+(?:(?:-|:)?\s*[\w\.:-]+)?(?:; compiled by [\w\s\']+\son\s[\d\-T:]+Z)?\b`, "<VERSION_INFO>"},
	{"java_version", `java = \d+\.\d+\.\d+_?\d*`, "<JAVA_VERSION>"},
	{"slow_op", `took\s+\d+ms\s+\(threshold=\d+ms\)`, "took <NUM>ms (threshold=<NUM>ms)"},
	{"snapshot_period", `Scheduled snapshot period at \d+ second\(s\)\.`, "Scheduled snapshot period at <NUM> second(s)."},
	{"balancer_bandwidth", `Balanced bandwith is \d+ bytes/s`, "Balancing bandwith is <NUM> bytes/s"},
	{"balancer_threads", `Number threads for balancing is \d+`, "Number threads for balancing is <NUM>"},
	{"signal_handlers", `registered UNIX signal handlers for \[[\w,\s]+\]`, "registered UNIX signal handlers for [<SIGNAL_LIST>]"},
	{"http_listener", `Listening HTTP traffic on /<IP_ADDRESS>:<NUM>`, "Listening HTTP traffic on <IP_ADDRESS>:<NUM>"},
	{"ipc_server", `IPC server at /<IP_ADDRESS>:<NUM>`, "IPC server at <IP_ADDRESS>:<NUM>"},
	{"jetty_port", `Jetty bound to port \d+`, "Jetty bound to port <NUM>"},
	{"jetty_version", `jetty-[\d\.]+`, "jetty-<VERSION>"},
	{"block_report", `block report from <IP_ADDRESS>\. Number of blocks: \d+`, "block report from <IP_ADDRESS>. Number of blocks: <NUM>"},
	{"logger_bridge", `Logging to org\.slf4j\.impl\.Log4jLoggerAdapter\(org\.mortbay\.log\) via org\.mortbay\.log\.Slf4jLog`, "Logging to <LOGGER_IMPL> via <LOGGER_BRIDGE>"},
	{"signer_fallback", `Unable to initialize FileSignerSecretProvider, falling back to use random secrets\.`, "Unable to initialize FileSignerSecretProvider, falling back to use random secrets."},
	{"number", `\d+`, "<NUM>"},
}

// DefaultRules returns a fresh copy of the built-in rule set.
func DefaultRules() []Rule {
	rules, err := compileRules(defaultRuleSpecs)
	if err != nil {
		panic(err)
	}
	return rules
}

// LoadRules reads an ordered rule list from a YAML file of the form
//
//	rules:
//	  - name: ip_address
//	    pattern: '\b\d{1,3}(\.\d{1,3}){3}\b'
//	    replacement: <IP_ADDRESS>
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ingest: parse rules %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("ingest: rules file %s defines no rules", path)
	}
	return compileRules(f.Rules)
}

func compileRules(specs []ruleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		if s.Pattern == "" {
			return nil, fmt.Errorf("ingest: rule %d (%s): empty pattern", i, s.Name)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("ingest: rule %d (%s): %w", i, s.Name, err)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		// A replacement the rule would rewrite again never reaches a fixed point.
		if re.ReplaceAllString(s.Replacement, s.Replacement) != s.Replacement {
			return nil, fmt.Errorf("ingest: rule %d (%s): replacement %q matches its own pattern", i, name, s.Replacement)
		}
		rules = append(rules, Rule{Name: name, Pattern: re, Replacement: s.Replacement})
	}
	return rules, nil
}
