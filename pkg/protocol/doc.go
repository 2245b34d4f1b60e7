// Package protocol defines the wire contract shared by every Cerebrum
// component: the closed set of topics and one message type per topic.
//
// # Topics
//
// Topic strings are a stable contract. They appear on the wire when the
// Redis transport is used, in the task journal and in logs, so they must
// never be renamed. The leading slash on TopicPresentReport is part of
// the contract.
//
// # Messages
//
// Each topic carries exactly one message type. Every message except
// UserInput and Shutdown carries a task_id correlation identifier, which
// is returned by CorrelationID. Field names follow the JSON layout used
// by the original agents (for example chatHistory and isInteractiveMode)
// so payloads stay readable by external tooling.
//
// # Usage Example
//
//	msg := &protocol.AnalysisRequest{
//		TaskID:            "task_1f0c...",
//		Data:              protocol.UserInputData{Ticker: "AAPL", Filter: protocol.DefaultFilter()},
//		IsInteractiveMode: false,
//	}
//	payload, err := protocol.Encode(msg)
//	...
//	decoded, err := protocol.Decode(protocol.TopicMarketAnalysis, payload)
package protocol
