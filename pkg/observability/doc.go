/*
Package observability turns session lifecycle hooks into Prometheus metrics and
structured log lines.

Both the session Manager and the reconciliation service accept domain.LifecycleHooks;
wire Metrics.Hooks() (and optionally LoggingHooks) into them and serve Metrics.Handler()
on /metrics.
*/
package observability
