/*
Package caretree is a clinical triage decision system: nurses walk a patient
through a versioned decision tree of questions, actions and terminal
recommendations, and each session ends with an accumulated score and a
priority classification.

The building blocks live under pkg/:

  - pkg/engine: pure traversal, scoring and classification over a protocol version.
  - pkg/session: the session state machine and a Manager that persists and
    serializes transitions per session.
  - pkg/offline: a disconnected replica with a durable queue, a protocol cache and
    a Syncer that drains the queue on reconnection.
  - pkg/reconcile: the server side of the drain, replaying every queued history
    authoritatively.

Transports (HTTP, MCP), storage adapters (memory, file, Redis) and the caretree
command wire these together.
*/
package caretree
