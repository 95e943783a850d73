// Package protocol decodes the line-oriented ADMS push format sent by
// attendance terminals.
//
// A push body is a sequence of records separated by '\n'. Most records are
// tab-separated with the record kind in the first field:
//
//	ATTLOG	1001	2026-03-01 08:00:12	0	1
//	USER	1001	Jane	0004521	0
//	FP	1001	6	TSFTUzIx...
//	INFO	Ver 6.60	&options=FingFun=1,FaceFun=0
//
// Command acknowledgments are space-separated ("OK 12", "ERROR 12 busy") or,
// on newer firmware, query-encoded ("ID=12&Return=0&CMD=DATA").
package protocol

import (
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindAck     Kind = "OK"
	KindError   Kind = "ERROR"
	KindInfo    Kind = "INFO"
	KindAttLog  Kind = "ATTLOG"
	KindUser    Kind = "USER"
	KindFP      Kind = "FP"
	KindFace    Kind = "FACE"
	KindUnknown Kind = "UNKNOWN"
)

// minFields is the field count, tag included, below which a tab-separated
// record is marked insufficient.
var minFields = map[Kind]int{
	KindInfo:   1,
	KindAttLog: 4,
	KindUser:   2,
	KindFP:     4,
	KindFace:   3,
}

// KindFromTable maps the "table" query parameter of a push request to the
// record kind of untagged lines. Only ATTLOG uploads are sent untagged.
func KindFromTable(table string) Kind {
	if strings.EqualFold(table, string(KindAttLog)) {
		return KindAttLog
	}
	return ""
}

// Record is one decoded line.
type Record struct {
	Kind Kind
	// Raw is the trimmed source line.
	Raw string
	// Fields holds the tab-separated fields, tag included. For ack and error
	// records it is nil.
	Fields []string
	// Insufficient marks a recognised record that lacks required fields.
	Insufficient bool
	// Untagged marks a line that carried no tag and took its kind from the
	// table hint. Its Fields start with the implied tag.
	Untagged bool

	// CommandID and Message are set for KindAck and KindError.
	CommandID int64
	Message   string

	// Options is the parsed option bag of an INFO record.
	Options map[string]string
}

// Field returns field i, or "" when the record is shorter.
func (r Record) Field(i int) string {
	if i < len(r.Fields) {
		return r.Fields[i]
	}
	return ""
}

// Truncated returns Raw cut to at most n runes.
func (r Record) Truncated(n int) string {
	if utf8.RuneCountInString(r.Raw) <= n {
		return r.Raw
	}
	runes := []rune(r.Raw)
	return string(runes[:n]) + "..."
}
