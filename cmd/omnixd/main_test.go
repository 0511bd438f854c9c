package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestHelpOutput(t *testing.T) {
	root := buildRoot()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	if !strings.Contains(buf.String(), "omnixd") {
		t.Fatalf("unexpected help output: %s", buf.String())
	}
}

func TestCommandTree(t *testing.T) {
	root := buildRoot()
	got := make(map[string]bool)
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, want := range []string{
		"serve", "up", "down", "status", "start", "stop", "restart", "validate", "template", "version",
	} {
		if !got[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := buildRoot()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version should succeed: %v", err)
	}
	if !strings.Contains(buf.String(), "omnixd "+version) {
		t.Fatalf("unexpected version output: %s", buf.String())
	}
}

func TestStartRequiresName(t *testing.T) {
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"start"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Fatalf("expected missing --name error, got %v", err)
	}
}
