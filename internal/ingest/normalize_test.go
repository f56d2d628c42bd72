package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizerDefaultRules(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)

	tests := []struct {
		name     string
		content  string
		template string
		params   []string
	}{
		{
			name:     "block transfer",
			content:  "Receiving block blk_-1608999687919862906 src: /10.250.19.102:54106 dest: /10.250.19.102:50010",
			template: "Receiving block <HDFS_ID> src: /<IP_ADDRESS> dest: /<IP_ADDRESS>",
			params:   []string{"10.250.19.102:54106", "10.250.19.102:50010", "blk_-1608999687919862906"},
		},
		{
			name:     "slow write",
			content:  "Slow BlockReceiver write packet to mirror took 12ms (threshold=300ms)",
			template: "Slow BlockReceiver write packet to mirror took <NUM>ms (threshold=<NUM>ms)",
			params:   []string{"took 12ms (threshold=300ms)"},
		},
		{
			name:     "whitespace collapsed",
			content:  "Starting   DataNode    with maxLockedMemory = 0",
			template: "Starting DataNode with maxLockedMemory = <NUM>",
			params:   []string{"0"},
		},
		{
			name:     "placeholder opens word boundary",
			content:  "5blk_x ready",
			template: "<NUM><HDFS_ID> ready",
			params:   []string{"5", "blk_x"},
		},
		{
			name:     "uuid and host",
			content:  "Container 1b2c3d4e-aaaa-bbbb-cccc-1234567890ab started on mesos-master-1",
			template: "Container <UUID> started on <HOSTNAME_OR_NODE>",
			params:   []string{"mesos-master-1", "1b2c3d4e-aaaa-bbbb-cccc-1234567890ab"},
		},
		{
			name:     "signal handlers",
			content:  "registered UNIX signal handlers for [TERM, HUP, INT]",
			template: "registered UNIX signal handlers for [<SIGNAL_LIST>]",
			params:   []string{"registered UNIX signal handlers for [TERM, HUP, INT]"},
		},
		{
			name:     "jetty version",
			content:  "jetty-6.1.26",
			template: "jetty-<VERSION>",
			params:   []string{"jetty-6.1.26"},
		},
		{
			name:     "no variables",
			content:  "start",
			template: "start",
			params:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, params := n.Normalize(tt.content)
			if got != tt.template {
				t.Errorf("Normalize(%q) template = %q, want %q", tt.content, got, tt.template)
			}
			if diff := cmp.Diff(tt.params, params); diff != "" {
				t.Errorf("Normalize(%q) params mismatch (-want +got):\n%s", tt.content, diff)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(nil)

	inputs := []string{
		"PacketResponder 1 for block BP-108841162-10.10.34.11-1440074360971:blk_1073742025_1201 terminating",
		"Loaded /usr/local/hadoop/share/hadoop/common/hadoop-common-2.7.1.jar ok",
		"build = https://git-wip-us.apache.org/repos/asf/hadoop.git -r 15ecc87; compiled by 'jenkins' on 2015-06-29T06:04Z",
		"Listening HTTP traffic on /10.0.0.1:50075",
		"IPC server at /0.0.0.0:8020",
		"Scheduled snapshot period at 10 second(s).",
		"9localhost 7blk_1 3DS-22",
		"   \t  ",
		"Unable to initialize FileSignerSecretProvider, falling back to use random secrets.",
	}
	for _, in := range inputs {
		once, _ := n.Normalize(in)
		twice, params := n.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
		if len(params) != 0 {
			t.Errorf("Normalize(%q) of a template returned params %v", once, params)
		}
	}
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yml")
	data := `rules:
  - name: request_id
    pattern: 'req-[0-9a-f]+'
    replacement: <REQ>
  - pattern: '\d+'
    replacement: <NUM>
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if rules[1].Name != "rule_1" {
		t.Errorf("unnamed rule name = %q, want rule_1", rules[1].Name)
	}

	got, params := NewNormalizer(rules).Normalize("handled req-9f3a in 40 ms")
	if got != "handled <REQ> in <NUM> ms" {
		t.Errorf("template = %q", got)
	}
	if diff := cmp.Diff([]string{"req-9f3a", "40"}, params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRulesErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cases := map[string]string{
		"empty.yml":   "rules: []\n",
		"badre.yml":   "rules:\n  - pattern: '('\n    replacement: x\n",
		"nopat.yml":   "rules:\n  - name: x\n    replacement: y\n",
		"notyaml.yml": "rules: [\n",
		"grows.yml":   "rules:\n  - name: grow\n    pattern: 'a'\n    replacement: aa\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := LoadRules(path); err == nil {
			t.Errorf("LoadRules(%s): expected error", name)
		}
	}
	if _, err := LoadRules(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("LoadRules(missing): expected error")
	}
}
