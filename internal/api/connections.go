package api

import (
	"net"
	"net/http"
	"sync/atomic"
)

// ConnTracker counts currently open connections by hooking into
// http.Server.ConnState, the same mechanism the teacher's server uses to
// report live connection counts without touching the request path.
type ConnTracker struct {
	count int64
}

// NewConnTracker returns an empty tracker.
func NewConnTracker() *ConnTracker {
	return &ConnTracker{}
}

// Hook is installed as an http.Server's ConnState callback.
func (t *ConnTracker) Hook(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		atomic.AddInt64(&t.count, 1)
	case http.StateClosed, http.StateHijacked:
		atomic.AddInt64(&t.count, -1)
	}
}

// Count returns the number of currently open connections.
func (t *ConnTracker) Count() int64 {
	return atomic.LoadInt64(&t.count)
}
