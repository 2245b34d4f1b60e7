package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr string
	}{
		{"default", DefaultFilter(), ""},
		{"period 1y", Filter{Option: FilterByPeriod, Period: "1y"}, ""},
		{"unknown period", Filter{Option: FilterByPeriod, Period: "3 months"}, "invalid period"},
		{"date range", Filter{Option: FilterByDateRange, StartDate: "2024-01-01", EndDate: "2024-06-30"}, ""},
		{"bad start", Filter{Option: FilterByDateRange, StartDate: "01/01/2024", EndDate: "2024-06-30"}, "invalid start_date"},
		{"reversed range", Filter{Option: FilterByDateRange, StartDate: "2024-06-30", EndDate: "2024-01-01"}, "must be before"},
		{"unknown option", Filter{Option: 3}, "invalid filter option"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUserInputData_Validate(t *testing.T) {
	assert.NoError(t, UserInputData{Ticker: "AAPL", Filter: DefaultFilter()}.Validate())
	assert.Error(t, UserInputData{Ticker: "  ", Filter: DefaultFilter()}.Validate())
}

func TestChatHistory_AppendDoesNotAlias(t *testing.T) {
	base := make(ChatHistory, 0, 8)
	base = append(base, ChatMessage{Role: ChatRoleUser, Content: "hello"})

	a := base.Append(ChatMessage{Role: ChatRoleAssistant, Content: "a"})
	b := base.Append(ChatMessage{Role: ChatRoleAssistant, Content: "b"})

	assert.Len(t, base, 1)
	assert.Equal(t, "a", a[1].Content)
	assert.Equal(t, "b", b[1].Content)
}

func TestFeedbackReply_NoFeedback(t *testing.T) {
	tests := map[string]bool{
		"":                true,
		"   ":             true,
		"no":              true,
		"No":              true,
		" no \n":          true,
		"note the volume": false,
		"more detail":     false,
	}
	for feedback, want := range tests {
		reply := &FeedbackReply{Data: FeedbackData{Feedback: feedback}}
		assert.Equal(t, want, reply.NoFeedback(), "feedback %q", feedback)
	}
}

func TestMessages_JSONFieldNames(t *testing.T) {
	req := &FeedbackRequest{AnalysisDraft{
		TaskID:      "task_1",
		Ticker:      "AAPL",
		Role:        "market_analyst",
		Content:     "draft",
		ChatHistory: ChatHistory{{Role: ChatRoleAssistant, Content: "draft"}},
		Retries:     3,
	}}
	data, err := Encode(req)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"task_id", "ticker", "role", "content", "chatHistory", "retries"} {
		assert.Contains(t, fields, key)
	}

	data, err = Encode(&AnalysisRequest{TaskID: "task_1", Data: UserInputData{Ticker: "AAPL", Filter: DefaultFilter()}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"task_1","data":{"ticker":"AAPL","filter":{"option":1,"period":"3mo"}},"isInteractiveMode":false}`, string(data))
}

func TestDecode(t *testing.T) {
	msg, err := Decode(TopicAnalysisFeedback, []byte(`{"task_id":"task_9","data":{"ticker":"TSLA","feedback":"no","retryAttempts":2}}`))
	require.NoError(t, err)

	reply, ok := msg.(*FeedbackReply)
	require.True(t, ok)
	assert.Equal(t, "task_9", reply.CorrelationID())
	assert.Equal(t, 2, reply.Data.RetryAttempts)
	assert.True(t, reply.NoFeedback())

	_, err = Decode(TopicShutdown, []byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode(Topic("bogus"), []byte(`{}`))
	assert.Error(t, err)
}

func TestShutdown_Report(t *testing.T) {
	assert.Equal(t, "", (&Shutdown{}).Report())
	assert.Equal(t, "done", (&Shutdown{Data: &ShutdownData{Report: "done"}}).Report())
}
