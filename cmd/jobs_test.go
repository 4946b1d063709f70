package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobsSubcommands(t *testing.T) {
	got := make(map[string]bool)
	for _, c := range jobsCmd.Commands() {
		got[c.Name()] = true
	}

	for _, name := range []string{"list", "status", "start", "pause", "resume", "cancel"} {
		assert.True(t, got[name], "missing jobs subcommand %q", name)
	}
}
