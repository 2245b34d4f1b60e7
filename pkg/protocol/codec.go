package protocol

import (
	"encoding/json"
	"fmt"
)

// New returns an empty message for topic, ready to be unmarshalled into.
func New(topic Topic) (Message, error) {
	switch topic {
	case TopicUserInput:
		return &UserInput{}, nil
	case TopicMarketAnalysis:
		return &AnalysisRequest{}, nil
	case TopicUserFeedback:
		return &FeedbackRequest{}, nil
	case TopicAnalysisFeedback:
		return &FeedbackReply{}, nil
	case TopicAnalysisRevise:
		return &RevisionRequest{}, nil
	case TopicChiefReview:
		return &ReviewRequest{}, nil
	case TopicPresentReport:
		return &FinalReport{}, nil
	case TopicShutdown:
		return &Shutdown{}, nil
	case TopicTaskFailed:
		return &TaskFailed{}, nil
	}
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("topic %s is reserved and has no message type", topic)
}

// Encode serialises a message to JSON.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Topic(), err)
	}
	return data, nil
}

// Decode parses a JSON payload received on topic.
func Decode(topic Topic, data []byte) (Message, error) {
	msg, err := New(topic)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s message: %w", topic, err)
	}
	return msg, nil
}
