// Package cycletime turns a monotonically increasing part counter into a
// rolling cycle-time estimate per machine.
//
// Each machine keeps a baseline observation and a bounded log of counter
// increases. The estimate spans from the baseline to the newest entry:
//
//	cycle = (last.Timestamp - baseline.Timestamp) / (last.Count - baseline.Count)
//
// Confidence grows with the number of entries: two is low, three is medium,
// five or more is high. A counter decrease (rollover or controller reset)
// clears the log and re-seeds the baseline from the new count.
//
// Machine status is derived separately by DeriveStatus: unreachable devices
// are offline, machines without an estimate or without a recent change are
// idle, the rest are active.
package cycletime
