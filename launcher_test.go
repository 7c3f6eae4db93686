package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInspectorNotice(t *testing.T) {
	assert.True(t, isInspectorNotice("Debugger listening on ws://127.0.0.1:9229/0f2c936f\n"))
	assert.True(t, isInspectorNotice("For help, see: https://nodejs.org/en/docs/inspector\n"))
	assert.True(t, isInspectorNotice("\rDebugger attached.\n"))
	assert.True(t, isInspectorNotice("Waiting for the debugger to disconnect...\n"))
	assert.False(t, isInspectorNotice("  1 passing (3ms)\n"))
}
