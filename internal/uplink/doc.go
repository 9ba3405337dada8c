// Package uplink batches machine records and delivers them to the remote
// collector over HTTP.
//
// Records are queued by Submit and sent as one JSON POST per flush. A flush
// happens when the queue reaches the batch size, when the oldest unsent
// data has waited longer than the max interval, on Flush, and on Close.
// A failed flush keeps the queue for the next attempt; after RetryAttempts
// consecutive failures the queue is dropped and the loss is logged.
//
// Delivery is at-least-once: a batch whose response is lost may be sent
// again.
//
// A separate health probe tracks whether the collector answers. It feeds
// Status only and never gates delivery.
//
// Thread Safety:
//   - A single worker goroutine owns the queue. Submit, Flush and Close
//     hand work to it over channels and are safe for concurrent use.
package uplink
