// Package mqtt maintains the single long-lived broker connection used to
// publish system reports and Home Assistant discovery documents.
//
// [Connect] starts two goroutines. The lifecycle goroutine dials the
// broker, waits for the session to end, and redials after an
// exponential backoff (1s doubling to 30s, reset on every accepted
// CONNACK). Each attempt uses a fresh client ID so a half-dead previous
// session on the broker never collides with the new one. The sender
// goroutine drains a bounded queue of outgoing messages and hands each
// to the live session.
//
// [Conn.Publish] and [Conn.PublishRetained] never block. Messages
// enqueued while disconnected wait for the next session; messages that
// do not fit in the queue are dropped and logged.
//
// The wire protocol is MQTT v5 via Eclipse Paho's low-level [paho]
// client. The transport sits behind the [Dialer] and [Session]
// interfaces so the lifecycle can be tested without a broker.
package mqtt
