package production

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func count(n int64) *int64 { return &n }

func sampleAt(sec int, status string, partCount *int64) Sample {
	return Sample{
		MachineID:       "M01",
		Timestamp:       t0.Add(time.Duration(sec) * time.Second),
		ExecutionStatus: status,
		PartCount:       partCount,
	}
}

func TestReconstruct(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    []Cycle
	}{
		{
			name:    "no samples",
			samples: nil,
			want:    []Cycle{},
		},
		{
			name: "single cycle",
			samples: []Sample{
				sampleAt(0, ExecutionActive, count(5)),
				sampleAt(10, ExecutionActive, count(5)),
				sampleAt(20, ExecutionActive, count(6)),
			},
			want: []Cycle{{MachineID: "M01", StartTime: t0, EndTime: t0.Add(20 * time.Second), DurationSeconds: 20}},
		},
		{
			name: "open cycle at end of window is discarded",
			samples: []Sample{
				sampleAt(0, ExecutionActive, count(5)),
				sampleAt(10, ExecutionActive, count(6)),
				sampleAt(20, ExecutionActive, count(6)),
				sampleAt(30, ExecutionActive, count(6)),
			},
			want: []Cycle{{MachineID: "M01", StartTime: t0, EndTime: t0.Add(10 * time.Second), DurationSeconds: 10}},
		},
		{
			name: "consecutive cycles",
			samples: []Sample{
				sampleAt(0, ExecutionActive, count(1)),
				sampleAt(30, ExecutionActive, count(2)),
				sampleAt(40, ExecutionActive, count(2)),
				sampleAt(70, ExecutionActive, count(3)),
			},
			want: []Cycle{
				{MachineID: "M01", StartTime: t0, EndTime: t0.Add(30 * time.Second), DurationSeconds: 30},
				{MachineID: "M01", StartTime: t0.Add(40 * time.Second), EndTime: t0.Add(70 * time.Second), DurationSeconds: 30},
			},
		},
		{
			name: "increase on the opening sample does not close it",
			samples: []Sample{
				sampleAt(0, ExecutionReady, count(5)),
				sampleAt(10, ExecutionActive, count(6)),
				sampleAt(20, ExecutionActive, count(6)),
				sampleAt(35, ExecutionActive, count(7)),
			},
			want: []Cycle{{MachineID: "M01", StartTime: t0.Add(10 * time.Second), EndTime: t0.Add(20 * time.Second), DurationSeconds: 10}},
		},
		{
			name: "increase while idle keeps the reference count",
			samples: []Sample{
				sampleAt(0, ExecutionReady, count(5)),
				sampleAt(10, ExecutionReady, count(6)),
				sampleAt(20, ExecutionActive, count(6)),
				sampleAt(30, ExecutionActive, count(6)),
				sampleAt(40, ExecutionActive, count(7)),
			},
			want: []Cycle{{MachineID: "M01", StartTime: t0.Add(20 * time.Second), EndTime: t0.Add(30 * time.Second), DurationSeconds: 10}},
		},
		{
			name: "samples without counts are tolerated",
			samples: []Sample{
				sampleAt(0, ExecutionActive, nil),
				sampleAt(5, ExecutionActive, count(3)),
				sampleAt(9, ExecutionActive, nil),
				sampleAt(12, ExecutionStopped, count(4)),
			},
			want: []Cycle{{MachineID: "M01", StartTime: t0, EndTime: t0.Add(12 * time.Second), DurationSeconds: 12}},
		},
		{
			name: "never active emits nothing",
			samples: []Sample{
				sampleAt(0, ExecutionReady, count(1)),
				sampleAt(10, ExecutionReady, count(2)),
				sampleAt(20, ExecutionStopped, count(3)),
			},
			want: []Cycle{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconstruct("M01", tt.samples)
			if got == nil {
				t.Fatal("Reconstruct() returned nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len(cycles) = %d, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				g, w := got[i], tt.want[i]
				if g.MachineID != w.MachineID || !g.StartTime.Equal(w.StartTime) || !g.EndTime.Equal(w.EndTime) || g.DurationSeconds != w.DurationSeconds {
					t.Errorf("cycles[%d] = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}

func TestReconstruct_DurationMilliseconds(t *testing.T) {
	samples := []Sample{
		{Timestamp: t0, ExecutionStatus: ExecutionActive, PartCount: count(1)},
		{Timestamp: t0.Add(1500 * time.Millisecond), ExecutionStatus: ExecutionActive, PartCount: count(2)},
	}
	cycles := Reconstruct("M01", samples)
	if len(cycles) != 1 {
		t.Fatalf("len(cycles) = %d, want 1", len(cycles))
	}
	if cycles[0].DurationSeconds != 1.5 {
		t.Errorf("DurationSeconds = %v, want 1.5", cycles[0].DurationSeconds)
	}
}
