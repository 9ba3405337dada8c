package shdr

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

const (
	// fieldSeparator splits a line into timestamp and item/value fields.
	fieldSeparator = "|"

	// defaultMaxLineLength bounds the framer buffer when no newline arrives.
	defaultMaxLineLength = 64 * 1024
)

// LineRecord is one item/value pair parsed from an SHDR line.
type LineRecord struct {
	// Timestamp is the adapter timestamp exactly as sent (field 0).
	Timestamp string `json:"timestamp"`

	DeviceID string `json:"deviceId"`
	Item     string `json:"item"`
	Value    string `json:"value"`

	// ReceivedAt is the local time the line was read.
	ReceivedAt time.Time `json:"receivedAt"`
}

// ParseLine splits one SHDR line into records.
//
// Field 0 is the timestamp; the remaining fields are consumed as ordered
// (item, value) pairs. An odd trailing field is dropped. Pairs with an
// empty item name are skipped. Empty lines yield no records and no error.
//
// Parameters:
//   - deviceID: Device the line came from
//   - line: One line without its trailing newline
//   - receivedAt: Local receive time stamped on every record
//
// Returns:
//   - []LineRecord: Records in line order
//   - error: ErrMalformedLine if the line has no field separator
func ParseLine(deviceID, line string, receivedAt time.Time) ([]LineRecord, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	if !strings.Contains(line, fieldSeparator) {
		return nil, fmt.Errorf("%w: no separator in %q", ErrMalformedLine, truncate(line, 64))
	}

	fields := strings.Split(line, fieldSeparator)
	ts := strings.TrimSpace(fields[0])
	pairs := fields[1:]

	records := make([]LineRecord, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		item := strings.TrimSpace(pairs[i])
		if item == "" {
			continue
		}
		records = append(records, LineRecord{
			Timestamp:  ts,
			DeviceID:   deviceID,
			Item:       item,
			Value:      strings.TrimSpace(pairs[i+1]),
			ReceivedAt: receivedAt,
		})
	}
	return records, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Framer extracts newline-terminated lines from a byte stream, retaining
// any partial line across calls. It is not safe for concurrent use; each
// connection owns its own Framer.
type Framer struct {
	buf     []byte
	maxLine int
}

// NewFramer creates a Framer. A maxLine of zero uses the default limit.
func NewFramer(maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = defaultMaxLineLength
	}
	return &Framer{maxLine: maxLine}
}

// Feed appends p and returns every complete line now available.
//
// If the retained partial line grows beyond the limit it is discarded and
// ErrLineTooLong is returned alongside any complete lines.
func (f *Framer) Feed(p []byte) ([]string, error) {
	f.buf = append(f.buf, p...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(f.buf[:idx], "\r")))
		f.buf = f.buf[idx+1:]
	}

	if len(f.buf) > f.maxLine {
		f.buf = nil
		return lines, ErrLineTooLong
	}

	// Compact so the backing array does not grow without bound.
	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
	}
	return lines, nil
}

// Pending returns the number of buffered bytes without a newline.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards any partial line.
func (f *Framer) Reset() {
	f.buf = nil
}

// LastDataLine returns the last line in body that carries availability or
// part count data, for adapters that expose their most recent SHDR output
// over HTTP.
func LastDataLine(body string) (string, bool) {
	lines := strings.Split(body, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.Contains(line, "|"+ItemAvailability+"|") || strings.Contains(line, "|"+ItemPartCount+"|") {
			return line, true
		}
	}
	return "", false
}
