package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/taskpilot/taskpilot/internal/config"
)

func TestRunVersionText(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "taskpilot") {
		t.Errorf("version output missing name: %s", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out.String()), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Error("version field missing")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out strings.Builder
	err := run(context.Background(), &out, &out, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("got %v", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out strings.Builder
	err := run(context.Background(), &out, &out, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("got %v", err)
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out strings.Builder
	err := run(context.Background(), &out, &out, []string{"-o", "xml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("got %v", err)
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("usage output: %s", out.String())
	}
}

func TestAskRequiresMessage(t *testing.T) {
	var out strings.Builder
	err := run(context.Background(), &out, &out, []string{"ask"})
	if err == nil || !strings.Contains(err.Error(), "usage: taskpilot ask") {
		t.Errorf("got %v", err)
	}
}

func TestAgentLimitsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxMessageLen = 500
	cfg.Limits.HistoryWindow = 12
	cfg.Limits.MaxToolRounds = 10
	cfg.Model.Retries = 3

	l := agentLimits(cfg)
	if l.MaxMessageLen != 500 || l.HistoryWindow != 12 || l.MaxToolRounds != 10 || l.ModelRetries != 3 {
		t.Errorf("configured limits not carried through: %+v", l)
	}
}
