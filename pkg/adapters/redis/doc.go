// Package redis provides Redis-backed session persistence and distributed locking
// for running several CareTree servers against one shared session space.
package redis
