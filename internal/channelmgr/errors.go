package channelmgr

import "errors"

var (
	// ErrChannelNotFound is returned for operations on an unknown channel id.
	ErrChannelNotFound = errors.New("channelmgr: channel not found")
	// ErrNoQueues is returned when creating a channel with an empty queue set.
	ErrNoQueues = errors.New("channelmgr: channel must reference at least one queue")
)
