package protocol

import "fmt"

// Topic identifies a broker channel. Only the constants below are valid.
type Topic string

const (
	TopicUserInput        Topic = "task/handle_user_input"
	TopicMarketAnalysis   Topic = "task/market_analysis"
	TopicUserFeedback     Topic = "task/user_feedback_out"
	TopicAnalysisFeedback Topic = "task/market_analysis_feedback"
	TopicAnalysisRevise   Topic = "task/market_analysis_revise"
	TopicChiefReview      Topic = "task/chief_review"
	TopicPresentReport    Topic = "/task/present_report"
	TopicShutdown         Topic = "system/shutdown"
	TopicTaskFailed       Topic = "task/failed"

	// Reserved for analysts that are not implemented yet. They validate so
	// that external publishers can use them, but nothing subscribes.
	TopicNewsAnalysis      Topic = "task/news_analysis"
	TopicNewsFeedback      Topic = "task/news_analysis_feedback"
	TopicBacktestAnalysis  Topic = "task/backtest_analysis"
	TopicSentimentAnalysis Topic = "task/sentiment_analysis"
	TopicChiefAnalysis     Topic = "task/chief_analyst"
)

var activeTopics = []Topic{
	TopicUserInput,
	TopicMarketAnalysis,
	TopicUserFeedback,
	TopicAnalysisFeedback,
	TopicAnalysisRevise,
	TopicChiefReview,
	TopicPresentReport,
	TopicShutdown,
	TopicTaskFailed,
}

var reservedTopics = []Topic{
	TopicNewsAnalysis,
	TopicNewsFeedback,
	TopicBacktestAnalysis,
	TopicSentimentAnalysis,
	TopicChiefAnalysis,
}

// String returns the wire encoding of the topic.
func (t Topic) String() string {
	return string(t)
}

// Validate returns an error unless t is one of the declared topics.
func (t Topic) Validate() error {
	for _, known := range activeTopics {
		if t == known {
			return nil
		}
	}
	for _, known := range reservedTopics {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("unknown topic: %q", string(t))
}

// Reserved reports whether the topic is declared but has no message type.
func (t Topic) Reserved() bool {
	for _, r := range reservedTopics {
		if t == r {
			return true
		}
	}
	return false
}

// ParseTopic converts a wire string into a Topic.
func ParseTopic(s string) (Topic, error) {
	t := Topic(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Topics returns the topics that carry a message type, in protocol order.
func Topics() []Topic {
	out := make([]Topic, len(activeTopics))
	copy(out, activeTopics)
	return out
}

// ReservedTopics returns the declared topics that have no message type yet.
func ReservedTopics() []Topic {
	out := make([]Topic, len(reservedTopics))
	copy(out, reservedTopics)
	return out
}
