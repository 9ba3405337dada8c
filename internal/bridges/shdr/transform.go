package shdr

import (
	"regexp"
	"strconv"
)

// Well-known SHDR data item names.
const (
	ItemAvailability   = "avail"
	ItemExecution      = "execution"
	ItemMode           = "mode"
	ItemPartCount      = "part_count"
	ItemPartCountAlt   = "partcount"
	ItemProgram        = "program"
	ItemProgramComment = "program_comment"
	ItemBlock          = "block"
	ItemLine           = "line"
	ItemToolID         = "tool_id"
	ItemPathFeedrate   = "path_feedrate"
	ItemSpindleOvr     = "SspeedOvr"
	ItemFeedOvr        = "Fovr"
)

// Program identifier sources selectable per device.
const (
	ProgramSourceProgram = "program"
	ProgramSourceBlock   = "block"
	ProgramSourceComment = "program_comment"
)

// Transform post-processes one parsed record before filtering. It returns
// the records to keep: none drops the input, more than one derives items.
type Transform func(LineRecord) []LineRecord

// Identity keeps every record unchanged.
func Identity(rec LineRecord) []LineRecord {
	return []LineRecord{rec}
}

var programNumber = regexp.MustCompile(`O(\d+)`)

// ProgramFromComment extracts a program identifier from a comment such as
// "% O0005(<634-04+A>)". The O-number n becomes "n/1000.n%1000", so O0005
// yields "0.5" and O12034 yields "12.34".
func ProgramFromComment(comment string) (string, bool) {
	m := programNumber.FindStringSubmatch(comment)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	return strconv.Itoa(n/1000) + "." + strconv.Itoa(n%1000), true
}

// ProgramTransform returns the transform for a device's program source.
//
// For "program" the stream is passed through. For "program_comment" each
// comment record additionally yields a derived "program" record. For
// "block" each block record additionally yields a "program" record with
// the block text.
func ProgramTransform(source string) Transform {
	switch source {
	case ProgramSourceComment:
		return func(rec LineRecord) []LineRecord {
			if rec.Item != ItemProgramComment {
				return []LineRecord{rec}
			}
			prog, ok := ProgramFromComment(rec.Value)
			if !ok {
				return []LineRecord{rec}
			}
			derived := rec
			derived.Item = ItemProgram
			derived.Value = prog
			return []LineRecord{rec, derived}
		}
	case ProgramSourceBlock:
		return func(rec LineRecord) []LineRecord {
			if rec.Item != ItemBlock || rec.Value == "" {
				return []LineRecord{rec}
			}
			derived := rec
			derived.Item = ItemProgram
			return []LineRecord{rec, derived}
		}
	default:
		return Identity
	}
}

// allowList filters records by item name. A nil allowList keeps everything.
type allowList map[string]struct{}

func newAllowList(items []string) allowList {
	if len(items) == 0 {
		return nil
	}
	a := make(allowList, len(items))
	for _, it := range items {
		a[it] = struct{}{}
	}
	return a
}

func (a allowList) allows(item string) bool {
	if a == nil {
		return true
	}
	_, ok := a[item]
	return ok
}
