package shdr

import (
	"errors"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		line    string
		want    []LineRecord
		wantErr error
	}{
		{
			name: "two pairs",
			line: "2026-03-01T08:00:00Z|avail|AVAILABLE|part_count|42",
			want: []LineRecord{
				{Timestamp: "2026-03-01T08:00:00Z", DeviceID: "M01", Item: "avail", Value: "AVAILABLE", ReceivedAt: now},
				{Timestamp: "2026-03-01T08:00:00Z", DeviceID: "M01", Item: "part_count", Value: "42", ReceivedAt: now},
			},
		},
		{
			name: "odd trailing field dropped",
			line: "ts|execution|ACTIVE|mode",
			want: []LineRecord{
				{Timestamp: "ts", DeviceID: "M01", Item: "execution", Value: "ACTIVE", ReceivedAt: now},
			},
		},
		{
			name: "carriage return trimmed",
			line: "ts|mode|AUTOMATIC\r",
			want: []LineRecord{
				{Timestamp: "ts", DeviceID: "M01", Item: "mode", Value: "AUTOMATIC", ReceivedAt: now},
			},
		},
		{
			name: "empty value kept",
			line: "ts|program|",
			want: []LineRecord{
				{Timestamp: "ts", DeviceID: "M01", Item: "program", Value: "", ReceivedAt: now},
			},
		},
		{
			name: "empty item skipped",
			line: "ts||x|avail|AVAILABLE",
			want: []LineRecord{
				{Timestamp: "ts", DeviceID: "M01", Item: "avail", Value: "AVAILABLE", ReceivedAt: now},
			},
		},
		{
			name: "timestamp only",
			line: "ts|",
			want: []LineRecord{},
		},
		{
			name: "empty line",
			line: "",
		},
		{
			name:    "no separator",
			line:    "garbage",
			wantErr: ErrMalformedLine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine("M01", tt.line, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseLine() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine() unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseLine() returned %d records, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFramer_RetainsPartialLine(t *testing.T) {
	f := NewFramer(0)

	lines, err := f.Feed([]byte("ts|avail|AVAIL"))
	if err != nil || len(lines) != 0 {
		t.Fatalf("Feed(partial) = %v, %v; want no lines", lines, err)
	}
	if f.Pending() != len("ts|avail|AVAIL") {
		t.Errorf("Pending() = %d, want %d", f.Pending(), len("ts|avail|AVAIL"))
	}

	lines, err = f.Feed([]byte("ABLE\nts|mode|AUTO\r\nts|exec"))
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	want := []string{"ts|avail|AVAILABLE", "ts|mode|AUTO"}
	if len(lines) != len(want) {
		t.Fatalf("Feed() = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
	if f.Pending() != len("ts|exec") {
		t.Errorf("Pending() = %d, want %d", f.Pending(), len("ts|exec"))
	}
}

func TestFramer_LineTooLong(t *testing.T) {
	f := NewFramer(8)

	_, err := f.Feed([]byte("0123456789"))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Feed() error = %v, want ErrLineTooLong", err)
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d after overflow, want 0", f.Pending())
	}

	lines, err := f.Feed([]byte("ts|a|b\n"))
	if err != nil || len(lines) != 1 {
		t.Errorf("Feed() after overflow = %v, %v; want one line", lines, err)
	}
}

func TestLastDataLine(t *testing.T) {
	body := "header\n2026|avail|AVAILABLE|part_count|1\n2026|part_count|2|execution|ACTIVE\n\n"

	line, ok := LastDataLine(body)
	if !ok {
		t.Fatal("LastDataLine() found nothing")
	}
	if line != "2026|part_count|2|execution|ACTIVE" {
		t.Errorf("LastDataLine() = %q", line)
	}

	if _, ok := LastDataLine("no data here\n"); ok {
		t.Error("LastDataLine() found a line in a body without data")
	}
}
