package production

// Reconstruct turns an ascending sequence of samples for one machine into
// completed cycles.
//
// The first sample with a part count seeds the reference count, which then
// only moves when a cycle closes. On every sample the open check runs before
// the close check, and the close check uses whether a cycle was open before
// this sample, so the sample that opens a cycle never closes it.
//
// A counter decrease does not touch an open cycle; it stays open until the
// count rises above the pre-decrease reference.
//
// Parameters:
//   - machineID: Machine the cycles are attributed to
//   - samples: Samples ordered by ascending timestamp
//
// Returns:
//   - []Cycle: Completed cycles in order (never nil)
func Reconstruct(machineID string, samples []Sample) []Cycle {
	cycles := make([]Cycle, 0)

	var (
		cycleOpen  bool
		cycleStart Sample
		haveCount  bool
		lastCount  int64
	)

	for _, s := range samples {
		wasOpen := cycleOpen

		if !haveCount && s.PartCount != nil {
			lastCount = *s.PartCount
			haveCount = true
		}

		if s.ExecutionStatus == ExecutionActive && !cycleOpen {
			cycleOpen = true
			cycleStart = s
		}

		if !wasOpen || !haveCount || s.PartCount == nil || *s.PartCount <= lastCount {
			continue
		}

		cycles = append(cycles, Cycle{
			MachineID:       machineID,
			StartTime:       cycleStart.Timestamp,
			EndTime:         s.Timestamp,
			DurationSeconds: float64(s.Timestamp.Sub(cycleStart.Timestamp).Milliseconds()) / 1000,
		})
		cycleOpen = false
		lastCount = *s.PartCount
	}

	return cycles
}
