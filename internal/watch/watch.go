// Package watch renders the task journal of a running instance.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/cerebrum/internal/task"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// OutputFormat selects how events and records are written.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable, coloured output.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSON is line-delimited JSON.
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSON:
		return f, nil
	case "":
		return OutputFormatDefault, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid formats: default, json)", s)
	}
}

// Source is a stream of journal events, such as a task.Subscription.
type Source interface {
	Events() <-chan task.Event
	Errors() <-chan error
}

var stateColors = map[task.State]*color.Color{
	task.StateCreated:           color.New(color.FgWhite),
	task.StateAnalysisRequested: color.New(color.FgCyan),
	task.StateFeedbackPending:   color.New(color.FgYellow),
	task.StateReviewPending:     color.New(color.FgMagenta),
	task.StateRevisionPending:   color.New(color.FgMagenta),
	task.StatePresented:         color.New(color.FgGreen),
	task.StateTerminal:          color.New(color.FgGreen, color.Bold),
	task.StateFailed:            color.New(color.FgRed, color.Bold),
}

// Stream writes events from src until ctx is done or src closes. Decode
// errors are reported inline and do not stop the stream.
func Stream(ctx context.Context, src Source, format OutputFormat, w io.Writer) error {
	events, errs := src.Events(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, ev, format); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(w, "warning: %v\n", err)
		}
	}
}

// WriteEvent writes one event in format.
func WriteEvent(w io.Writer, ev task.Event, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	c, ok := stateColors[ev.To]
	if !ok {
		c = color.New(color.Reset)
	}
	line := fmt.Sprintf("[%s] %s %-6s %s", ev.At.Format("15:04:05"), shortID(ev.TaskID), ev.Ticker, transition(ev))
	if ev.Note != "" {
		line += " (" + ev.Note + ")"
	}
	if ev.Error != "" && ev.To == task.StateFailed {
		line += ": " + ev.Error
	}
	_, err := c.Fprintln(w, line)
	return err
}

// FormatTable writes task records as a table, newest first.
func FormatTable(w io.Writer, records []*task.Record, instance string, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintf(w, "No tasks found for instance '%s'\n", instance)
		return err
	}
	sorted := append([]*task.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	fmt.Fprintf(w, "Tasks for instance '%s':\n\n", instance)
	table := tablewriter.NewWriter(w)
	table.Header("ID", "TICKER", "FILTER", "STATE", "RETRIES", "REVIEWS", "AGE")
	for _, r := range sorted {
		if err := table.Append([]string{
			shortID(r.ID),
			r.Ticker,
			r.Filter.String(),
			string(r.State),
			fmt.Sprint(r.Retries),
			fmt.Sprint(r.ReviewPasses),
			age(now.Sub(r.CreatedAt)),
		}); err != nil {
			return fmt.Errorf("failed to format task %s: %w", r.ID, err)
		}
	}
	return table.Render()
}

// FormatJSONL writes one record per line.
func FormatJSONL(w io.Writer, records []*task.Record) error {
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal task to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func transition(ev task.Event) string {
	if ev.From == "" {
		return string(ev.To)
	}
	return fmt.Sprintf("%s -> %s", ev.From, ev.To)
}

// shortID trims the uuid of a task id to its first block.
func shortID(id string) string {
	rest := strings.TrimPrefix(id, task.IDPrefix)
	if i := strings.IndexByte(rest, '-'); i > 0 {
		rest = rest[:i]
	}
	return rest
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
