package main

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func useInput(t *testing.T, text string) {
	t.Helper()
	prevReader, prevClosed := stdin, inputClosed
	stdin = bufio.NewReader(strings.NewReader(text))
	inputClosed = false
	t.Cleanup(func() {
		stdin, inputClosed = prevReader, prevClosed
	})
}

func TestGetUserInputStopsAtEOF(t *testing.T) {
	useInput(t, "1\n  last line  ")

	assert.Equal(t, "1", getUserInput(""))
	assert.False(t, inputClosed)

	assert.Equal(t, "last line", getUserInput(""))
	assert.True(t, inputClosed)

	assert.Equal(t, "", getUserInput(""))
	assert.Equal(t, "fallback", getUserInputWithDefault("name", "fallback"))
}

func TestRunMenuReturnsWhenInputCloses(t *testing.T) {
	useInput(t, "unknown\n")

	done := make(chan struct{})
	go func() {
		defer close(done)
		runMenu(nil, nil, nil)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("menu loop kept running after stdin closed")
	}
	assert.True(t, inputClosed)
}
