/*
Package offline runs triage while disconnected from the server.

A Replica executes sessions with the same session.Machine the server uses, against
protocol versions held in a local Cache. Completed or abandoned sessions are appended to
a durable Queue, and a Syncer drains that queue to the server's reconciliation endpoint
once connectivity returns.

The queue is only ever trimmed after the server has accounted for an item, so delivery is
at-least-once; the server deduplicates on the local ID each item carries.
*/
package offline
