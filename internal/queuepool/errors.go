package queuepool

import "errors"

var (
	// ErrInvalidQueueID is returned when a queue id fails the naming pattern.
	ErrInvalidQueueID = errors.New("queuepool: invalid queue id")
	// ErrQueueAlreadyExists is returned by CreateQueue on a duplicate id.
	ErrQueueAlreadyExists = errors.New("queuepool: queue already exists")
	// ErrQueueNotFound is returned when an operation targets an unknown queue.
	ErrQueueNotFound = errors.New("queuepool: queue not found")
	// ErrPoolCapacityExceeded is returned by CreateQueue when the pool is
	// already at its configured capacity.
	ErrPoolCapacityExceeded = errors.New("queuepool: pool capacity exceeded")
)
