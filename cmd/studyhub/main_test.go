package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	mode, rest := parseMode([]string{"SERVER", "--addr", ":1"})
	assert.Equal(t, modeServer, mode)
	assert.Equal(t, []string{"--addr", ":1"}, rest)

	mode, rest = parseMode([]string{"--server", "ws://x/socket"})
	assert.Equal(t, modeWatch, mode)
	assert.Len(t, rest, 2)

	mode, _ = parseMode(nil)
	assert.Equal(t, modeWatch, mode)
}

func TestServerArgsKeepsOnlyServerFlags(t *testing.T) {
	args := []string{"--name", "Ann", "--db", "/tmp/x.db", "--store=sqlite", "--trust-proxy", "--code", "S1"}

	assert.Equal(t, []string{"--db", "/tmp/x.db", "--store=sqlite", "--trust-proxy"}, serverArgs(args))
}

func TestBuildWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:4000/socket", buildWebsocketURL("127.0.0.1:4000", ""))
	assert.Equal(t, "ws://[::1]:4000/live", buildWebsocketURL("[::1]:4000", "live"))
}
