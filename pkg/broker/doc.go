// Package broker provides the topic-keyed publish/subscribe dispatcher
// that every Cerebrum agent communicates through.
//
// # Delivery Model
//
// Publish schedules one independent invocation per handler registered on
// the message's topic at the time of the call and returns without waiting
// for any of them. There is no ordering between subscribers, no replay
// for late subscribers and no buffering when nobody is subscribed: the
// message is simply dropped. A handler that fails or panics is logged and
// never retried; other handlers are unaffected.
//
// # Backpressure
//
// Handler concurrency can be bounded with WithMaxConcurrent. What happens
// when every slot is busy is chosen with WithPolicy:
//
//	PolicyQueue  publish returns at once, invocations wait for a slot
//	PolicyBlock  publish waits for a slot for each invocation
//	PolicyDrop   invocations that find no free slot are discarded
//
// # Transports
//
// Memory dispatches in-process. Redis carries messages over Redis
// Pub/Sub, namespaced by instance, and dispatches received messages
// through an embedded Memory broker, so both transports share the same
// handler semantics.
package broker
