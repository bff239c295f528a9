/*
Package ports defines the driven ports (interfaces) of the CareTree core.

These interfaces decouple the decision engine, the session state machine and the
reconciliation service from storage and transport, so the same core runs on the
server and on a disconnected replica.

# Key Interfaces

  - VersionRepository: Read-only access to published protocol versions.
  - SessionStore: Persists sessions and the local-ID claims used for deduplication.
  - DistributedLocker: Serializes access to a session across server replicas.
  - OfflineQueue: Durable local queue of sessions recorded while disconnected.
  - Upstream: The replica's view of the server (refresh and bulk reconcile).
*/
package ports
