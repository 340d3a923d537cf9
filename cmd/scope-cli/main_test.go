package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndices(t *testing.T) {
	got, err := parseIndices(" 3, 0,255")
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 0, 255}, got)

	got, err = parseIndices("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseIndices("1,x")
	assert.Error(t, err)

	_, err = parseIndices("70000")
	assert.Error(t, err)
}

func TestWSEndpointFor(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8899/ws", wsEndpointFor("http://127.0.0.1:8899"))
	assert.Equal(t, "wss://node.example/ws", wsEndpointFor("https://node.example/"))
}
