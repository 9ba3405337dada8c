package uplink

import "errors"

// Sentinel errors for uplink operations.
var (
	// ErrInvalidConfig indicates the buffer configuration is unusable.
	ErrInvalidConfig = errors.New("uplink: invalid configuration")

	// ErrClosed indicates the buffer has been closed.
	ErrClosed = errors.New("uplink: buffer closed")

	// ErrQueueFull indicates Submit could not hand the record to the worker.
	ErrQueueFull = errors.New("uplink: queue full")

	// ErrDeliveryFailed indicates the batch request could not be completed.
	ErrDeliveryFailed = errors.New("uplink: delivery failed")

	// ErrUnexpectedStatus indicates the collector answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("uplink: unexpected response status")

	// ErrBatchDropped indicates the queue was discarded after the retry cap.
	ErrBatchDropped = errors.New("uplink: batch dropped after retry limit")
)
