package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("hello %d", 1)
	assert.Equal(t, []string{"hello 1"}, *lines)

	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *lines, 1)
}

func TestComponent(t *testing.T) {
	lines := capture(t)
	logf := Component("decision")
	logf("switch %s -> %s", "N", "S")
	assert.Equal(t, []string{"[decision] switch N -> S"}, *lines)
}

func TestComponent_FollowsLoggerSwap(t *testing.T) {
	logf := Component("worker")
	lines := capture(t)
	logf("late binding")
	assert.Equal(t, []string{"[worker] late binding"}, *lines)
}
