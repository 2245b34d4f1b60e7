package printer

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prevOut, prevErr := stdout, stderr
	prevNoColor := color.NoColor
	color.NoColor = true

	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	t.Cleanup(func() {
		SetOutput(prevOut, prevErr)
		color.NoColor = prevNoColor
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion printed plainly", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:")
		assert.Contains(t, errOut.String(), "1. First option")
		assert.Contains(t, errOut.String(), "2. Second option")
	})
}

func TestErrorWithContext_SortedKeys(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Bad config", "", map[string]string{
		"Path":     "/etc/cerebrum.yml",
		"Instance": "default",
	}, nil)
	require.Equal(t, "Bad config", err.Error())

	text := errOut.String()
	assert.Less(t, strings.Index(text, "Instance"), strings.Index(text, "Path"))
}

func TestStatusLines(t *testing.T) {
	out, _ := capture(t)
	Success("done\n")
	Warning("careful\n")
	Step("next\n")
	Info("plain %d\n", 1)

	text := out.String()
	assert.Contains(t, text, "✓ done")
	assert.Contains(t, text, "⚠️  careful")
	assert.Contains(t, text, "→ next")
	assert.Contains(t, text, "plain 1")
}

func TestNarrator(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	n := NewNarrator(&buf)

	n.Say("chief_analyst", "review complete for %s", "AAPL")
	n.Block("market_analyst", "analysis", "line one\nline two\n")
	n.Say("unknown_role", "hello")

	text := buf.String()
	assert.Contains(t, text, "Chief Analyst: review complete for AAPL\n")
	assert.Contains(t, text, "Market Analyst: analysis\nline one\nline two\n")
	assert.Contains(t, text, "unknown_role: hello")
}

func TestNarrator_ConcurrentLinesDoNotInterleave(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	n := NewNarrator(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Say("user_proxy", "%s", strings.Repeat("x", 200))
		}()
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, "User Assistant: "+strings.Repeat("x", 200), line)
	}
}
