// Package production reconstructs production cycles from persisted machine
// samples and derives OEE (availability × performance × quality) for a
// query window.
//
// A cycle opens on the first ACTIVE sample while none is open and closes on
// the next sample whose part count exceeds the last recorded count. Cycles
// still open when the window ends are discarded.
//
// Samples are stored in SQLite by SQLiteSampleRepository, written by the
// gateway as machine data arrives and pruned on a cron schedule by
// Retention. Analyzer combines the repository, Reconstruct and CalculateOEE
// into one windowed query.
package production
