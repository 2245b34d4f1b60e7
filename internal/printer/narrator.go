package printer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var roleColors = map[string]*color.Color{
	"user_proxy":     color.New(color.FgGreen),
	"chief_analyst":  color.New(color.FgRed),
	"market_analyst": color.New(color.Attribute(38), color.Attribute(5), color.Attribute(208)),
	"supervisor":     color.New(color.FgCyan),
}

var roleTitles = map[string]string{
	"user_proxy":     "User Assistant",
	"chief_analyst":  "Chief Analyst",
	"market_analyst": "Market Analyst",
	"supervisor":     "Supervisor",
}

// Narrator writes the running commentary of each agent. Lines from
// concurrent handlers never interleave.
type Narrator struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNarrator creates a narrator writing to w.
func NewNarrator(w io.Writer) *Narrator {
	return &Narrator{w: w}
}

// Discard is a narrator that prints nothing.
func Discard() *Narrator {
	return NewNarrator(io.Discard)
}

// Say prints one coloured line attributed to role.
func (n *Narrator) Say(role, format string, a ...any) {
	line := fmt.Sprintf("%s: %s", title(role), fmt.Sprintf(format, a...))

	n.mu.Lock()
	defer n.mu.Unlock()
	colorFor(role).Fprintln(n.w, line)
}

// Block prints a heading attributed to role followed by an uncoloured
// body, used for analyses and reports.
func (n *Narrator) Block(role, heading, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	colorFor(role).Fprintf(n.w, "%s: %s\n", title(role), heading)
	fmt.Fprintln(n.w, strings.TrimRight(body, "\n"))
}

func colorFor(role string) *color.Color {
	if c, ok := roleColors[role]; ok {
		return c
	}
	return color.New(color.Reset)
}

func title(role string) string {
	if t, ok := roleTitles[role]; ok {
		return t
	}
	return role
}
