/*
Package session implements the triage session state machine and its server-side
orchestration.

Machine holds the transition rules (Start, Respond, Back, Result) and is shared by the
server and the offline replica, so both contexts traverse a protocol identically.
Manager wraps the Machine with persistence and per-session locking: local memory locks
with reference counting, plus an optional distributed lock for multi-instance setups.
*/
package session
