// Package dblock serializes test packages that share the local Postgres
// database. Packages truncate tables on setup, so two of them running
// concurrently would corrupt each other's fixtures.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45433"

// Acquire blocks until this process holds the cross-package lock and
// returns the release function.
func Acquire() func() {
	addr := os.Getenv("TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
