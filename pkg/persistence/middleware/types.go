// Package middleware wraps the offline queue with at-rest protections.
package middleware

import "github.com/aretw0/caretree/pkg/ports"

// Middleware allows wrapping an OfflineQueue to add behavior.
type Middleware func(ports.OfflineQueue) ports.OfflineQueue

// Chain applies middlewares so that the first one is the outermost.
func Chain(q ports.OfflineQueue, mws ...Middleware) ports.OfflineQueue {
	for i := len(mws) - 1; i >= 0; i-- {
		q = mws[i](q)
	}
	return q
}
