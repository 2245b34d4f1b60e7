package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Message is implemented by every topic payload.
type Message interface {
	Topic() Topic
	// CorrelationID returns the task_id, or "" for messages that precede
	// task creation or carry none.
	CorrelationID() string
}

// Filter options.
const (
	FilterByPeriod    = 1
	FilterByDateRange = 2
)

// DateLayout is the layout of Filter.StartDate and Filter.EndDate.
const DateLayout = "2006-01-02"

// DefaultPeriod is used when no filter is supplied.
const DefaultPeriod = "3mo"

var validPeriods = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
	"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
}

// Filter selects the slice of market history to analyse.
type Filter struct {
	Option    int    `json:"option"`
	Period    string `json:"period,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// DefaultFilter returns the period filter {option: 1, period: "3mo"}.
func DefaultFilter() Filter {
	return Filter{Option: FilterByPeriod, Period: DefaultPeriod}
}

// Validate checks the filter against its option.
func (f Filter) Validate() error {
	switch f.Option {
	case FilterByPeriod:
		if !validPeriods[f.Period] {
			return fmt.Errorf("invalid period %q", f.Period)
		}
		return nil
	case FilterByDateRange:
		start, err := time.Parse(DateLayout, f.StartDate)
		if err != nil {
			return fmt.Errorf("invalid start_date %q: %w", f.StartDate, err)
		}
		end, err := time.Parse(DateLayout, f.EndDate)
		if err != nil {
			return fmt.Errorf("invalid end_date %q: %w", f.EndDate, err)
		}
		if !start.Before(end) {
			return fmt.Errorf("start_date %s must be before end_date %s", f.StartDate, f.EndDate)
		}
		return nil
	default:
		return fmt.Errorf("invalid filter option %d (must be %d or %d)", f.Option, FilterByPeriod, FilterByDateRange)
	}
}

// String renders the filter for logs and prompts.
func (f Filter) String() string {
	if f.Option == FilterByDateRange {
		return f.StartDate + ".." + f.EndDate
	}
	return f.Period
}

// ChatMessage is one turn of a completion conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles understood by completion services.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatHistory is the accumulated conversation of a task.
type ChatHistory []ChatMessage

// Append returns a new history with turns added. The receiver is never
// modified, so a history received in a message can be extended safely
// while other handlers still read it.
func (h ChatHistory) Append(turns ...ChatMessage) ChatHistory {
	out := make(ChatHistory, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// UserInputData is the ticker request as typed by the operator.
type UserInputData struct {
	Ticker string `json:"ticker"`
	Filter Filter `json:"filter"`
}

// Validate checks the ticker and filter.
func (d UserInputData) Validate() error {
	if strings.TrimSpace(d.Ticker) == "" {
		return fmt.Errorf("ticker cannot be empty")
	}
	return d.Filter.Validate()
}

// UserInput is published on TopicUserInput to start a task.
type UserInput struct {
	Data UserInputData `json:"data"`
}

func (*UserInput) Topic() Topic { return TopicUserInput }
func (*UserInput) CorrelationID() string { return "" }

// AnalysisRequest is published on TopicMarketAnalysis by the intake agent.
type AnalysisRequest struct {
	TaskID            string        `json:"task_id"`
	Data              UserInputData `json:"data"`
	IsInteractiveMode bool          `json:"isInteractiveMode"`
}

func (*AnalysisRequest) Topic() Topic { return TopicMarketAnalysis }
func (m *AnalysisRequest) CorrelationID() string { return m.TaskID }

// AnalysisDraft is the shape shared by feedback and review requests.
type AnalysisDraft struct {
	TaskID      string      `json:"task_id"`
	Ticker      string      `json:"ticker"`
	Role        string      `json:"role"`
	Content     string      `json:"content"`
	ChatHistory ChatHistory `json:"chatHistory"`
	Retries     int         `json:"retries"`
}

// FeedbackRequest asks the operator to comment on a draft analysis.
type FeedbackRequest struct {
	AnalysisDraft
}

func (*FeedbackRequest) Topic() Topic { return TopicUserFeedback }
func (m *FeedbackRequest) CorrelationID() string { return m.TaskID }

// ReviewRequest hands an analysis to the review agent.
type ReviewRequest struct {
	AnalysisDraft
}

func (*ReviewRequest) Topic() Topic { return TopicChiefReview }
func (m *ReviewRequest) CorrelationID() string { return m.TaskID }

// FeedbackData carries the operator's answer back to the analysis agent.
type FeedbackData struct {
	Ticker          string      `json:"ticker"`
	Feedback        string      `json:"feedback"`
	ChatHistory     ChatHistory `json:"chatHistory"`
	RetryAttempts   int         `json:"retryAttempts"`
	CurrentAnalysis string      `json:"currentAnalysis"`
}

// FeedbackReply is published on TopicAnalysisFeedback by the intake agent.
type FeedbackReply struct {
	TaskID string       `json:"task_id"`
	Data   FeedbackData `json:"data"`
}

func (*FeedbackReply) Topic() Topic { return TopicAnalysisFeedback }
func (m *FeedbackReply) CorrelationID() string { return m.TaskID }

// NoFeedback reports whether the operator declined to comment.
func (m *FeedbackReply) NoFeedback() bool {
	f := strings.TrimSpace(m.Data.Feedback)
	return f == "" || strings.EqualFold(f, "no")
}

// RevisionRequest carries review feedback back to the analysis agent.
type RevisionRequest struct {
	TaskID         string `json:"task_id"`
	ReviewFeedback string `json:"review_feedback"`
	MarketAnalysis string `json:"market_analysis"`
}

func (*RevisionRequest) Topic() Topic { return TopicAnalysisRevise }
func (m *RevisionRequest) CorrelationID() string { return m.TaskID }

// ReportTypeFinal is the only report type currently produced.
const ReportTypeFinal = "final_report"

// FinalReport is the terminal analysis presented to the operator.
type FinalReport struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Report string `json:"report"`
}

func (*FinalReport) Topic() Topic { return TopicPresentReport }
func (m *FinalReport) CorrelationID() string { return m.TaskID }

// ShutdownData optionally carries the report that ended the run.
type ShutdownData struct {
	Report string `json:"report,omitempty"`
}

// Shutdown stops every agent. Both fields are optional.
type Shutdown struct {
	TaskID string        `json:"task_id,omitempty"`
	Data   *ShutdownData `json:"data,omitempty"`
}

func (*Shutdown) Topic() Topic { return TopicShutdown }
func (m *Shutdown) CorrelationID() string { return m.TaskID }

// Report returns the final report carried by the message, if any.
func (m *Shutdown) Report() string {
	if m.Data == nil {
		return ""
	}
	return m.Data.Report
}

// TaskFailed is published when a handler gives up on a task.
type TaskFailed struct {
	TaskID string `json:"task_id"`
	Role   string `json:"role"`
	Stage  Topic  `json:"stage"`
	Error  string `json:"error"`
}

func (*TaskFailed) Topic() Topic { return TopicTaskFailed }
func (m *TaskFailed) CorrelationID() string { return m.TaskID }
