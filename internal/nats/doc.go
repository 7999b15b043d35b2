// Package nats publishes relay session status to NATS and optionally embeds
// a NATS server so a single host needs no separate broker.
//
// # Architecture
//
//   - Server: embedded NATS server started by "relaynode" when nats.embedded is set
//   - Publisher: subscribes to the event bus and forwards session events to NATS
//
// # Subject Hierarchy
//
//	relaynode.sessions.status                 # full snapshot after every change
//	relaynode.sessions.{session}.started      # session registered
//	relaynode.sessions.{session}.stopped      # stopped by a user
//	relaynode.sessions.{session}.restarted    # relaunched after a failure
//	relaynode.sessions.{session}.failed       # removed after exhausting restarts
//
// Session names are mapped to a single subject token by SubjectToken.
// Messaging is fire-and-forget (core NATS, no JetStream); the publisher
// drops messages while disconnected. Payloads never carry stream keys.
//
// # Debugging with nats CLI
//
// Watch everything:
//
//	nats sub "relaynode.sessions.>"
//
// Watch failures only:
//
//	nats sub "relaynode.sessions.*.failed"
package nats
