/*
Package engine implements the CareTree decision engine.

Every function in this package is pure: it reads a protocol version and a response
history and never mutates either, so the same calls produce the same results on the
server and on a disconnected replica. The engine resolves the next node of a traversal,
accumulates scores, classifies priorities and replays full paths to re-validate
sessions produced elsewhere.
*/
package engine
