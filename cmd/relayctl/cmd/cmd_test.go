package cmd

import (
	"strings"
	"testing"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
)

func TestCommandsRegistered(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	expectedCommands := map[string]bool{
		"migrate":   false,
		"purge":     false,
		"dlq":       false,
		"retention": false,
		"export":    false,
	}
	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := expectedCommands[name]; ok {
			expectedCommands[name] = true
		}
	}
	for name, found := range expectedCommands {
		if !found {
			t.Errorf("expected command '%s' to be registered with root command", name)
		}
	}
}

func TestSubcommands(t *testing.T) {
	cases := map[string][]string{
		"migrate":   {"up", "down"},
		"dlq":       {"list", "requeue"},
		"retention": {"set", "show"},
	}
	for parent, subs := range cases {
		cmd, _, err := rootCmd.Find([]string{parent})
		if err != nil {
			t.Fatalf("find %s: %v", parent, err)
		}
		for _, sub := range subs {
			found := false
			for _, c := range cmd.Commands() {
				if strings.Fields(c.Use)[0] == sub {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%s should have subcommand %s", parent, sub)
			}
		}
	}
}

func TestPurgeTargets(t *testing.T) {
	got, err := purgeTargets("all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != audit.TargetDeadLetters || got[1] != audit.TargetAudit {
		t.Fatalf("unexpected targets: %v", got)
	}
	if _, err := purgeTargets("everything"); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[1] != 42 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	for _, bad := range []string{"0", "-3", "abc"} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
