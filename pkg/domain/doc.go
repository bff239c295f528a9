/*
Package domain contains the core domain models of the CareTree triage engine.

It defines the published protocol graph (Protocol Versions, Nodes and Branch Rules),
the operator's run through it (Session and its Responses) and the error taxonomy shared
by every execution context. This package is kept pure and free of external dependencies
like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - ProtocolVersion: Immutable snapshot of a branching questionnaire.
  - Node: One step in the questionnaire (Question, Action or Terminal).
  - BranchRule: Maps a response at a node to the next node ("*" is the default branch).
  - Session: One operator's run, with its Response history, score and priority.
  - ResponseValue: Tagged union of the values an operator can submit.
*/
package domain
