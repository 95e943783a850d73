package protocol

import (
	"iter"
	"net/url"
	"strconv"
	"strings"
)

type decodeOptions struct {
	table Kind
}

type DecodeOption func(*decodeOptions)

// WithTable decodes lines whose first field is not a known tag as records of
// kind k, as terminals do when the push URL carries table=ATTLOG.
func WithTable(k Kind) DecodeOption {
	return func(o *decodeOptions) { o.table = k }
}

// Decode yields the records of body in order. Blank lines are dropped and
// nothing in the body can make decoding fail: lines that cannot be classified
// come back as KindUnknown, short lines as Insufficient. The sequence can be
// iterated any number of times.
func Decode(body string, opts ...DecodeOption) iter.Seq[Record] {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(Record) bool) {
		rest := body
		for len(rest) > 0 {
			var line string
			if i := strings.IndexByte(rest, '\n'); i >= 0 {
				line, rest = rest[:i], rest[i+1:]
			} else {
				line, rest = rest, ""
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !yield(DecodeLine(line, o.table)) {
				return
			}
		}
	}
}

// DecodeLine classifies one trimmed, non-blank line. table is the implied
// kind for untagged lines, or "" for none.
func DecodeLine(line string, table Kind) Record {
	if rec, ok := decodeResult(line); ok {
		return rec
	}

	fields := strings.Split(line, "\t")
	kind := Kind(fields[0])

	// Keyed layouts put a space between the tag and the first pair:
	// "USER PIN=1\tName=Jane".
	if tag, first, ok := strings.Cut(fields[0], " "); ok {
		if _, known := minFields[Kind(tag)]; known {
			kind = Kind(tag)
			fields = append([]string{tag, first}, fields[1:]...)
		}
	}

	untagged := false
	if _, known := minFields[kind]; !known {
		if table == "" {
			return Record{Kind: KindUnknown, Raw: line, Fields: fields}
		}
		kind = table
		fields = append([]string{string(table)}, fields...)
		untagged = true
	}

	rec := Record{Kind: kind, Raw: line, Fields: fields, Untagged: untagged}
	if len(fields) < minFields[kind] {
		rec.Insufficient = true
		return rec
	}
	if kind == KindInfo {
		rec.Options = parseOptions(fields[1:])
	}
	return rec
}

// decodeResult recognises command results: "OK <id>", "ERROR <id> <msg>" and
// "ID=<id>&Return=<code>&CMD=<name>".
func decodeResult(line string) (Record, bool) {
	head, tail, _ := strings.Cut(line, " ")
	switch head {
	case string(KindAck):
		rec := Record{Kind: KindAck, Raw: line}
		// Some firmware appends text after the id ("OK 12 done").
		idStr, _, _ := strings.Cut(strings.TrimSpace(tail), " ")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			rec.Insufficient = true
			return rec, true
		}
		rec.CommandID = id
		return rec, true

	case string(KindError):
		rec := Record{Kind: KindError, Raw: line}
		idStr, msg, _ := strings.Cut(strings.TrimSpace(tail), " ")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			rec.Insufficient = true
			return rec, true
		}
		rec.CommandID = id
		rec.Message = strings.TrimSpace(msg)
		return rec, true
	}

	if !strings.HasPrefix(line, "ID=") || strings.Contains(line, "\t") {
		return Record{}, false
	}
	values, err := url.ParseQuery(line)
	if err != nil {
		return Record{Kind: KindAck, Raw: line, Insufficient: true}, true
	}
	id, err := strconv.ParseInt(values.Get("ID"), 10, 64)
	if err != nil {
		return Record{Kind: KindAck, Raw: line, Insufficient: true}, true
	}
	ret := values.Get("Return")
	if ret == "0" {
		return Record{Kind: KindAck, Raw: line, CommandID: id}, true
	}
	msg := "Return=" + ret
	if cmd := values.Get("CMD"); cmd != "" {
		msg += " CMD=" + cmd
	}
	return Record{Kind: KindError, Raw: line, CommandID: id, Message: msg}, true
}

// parseOptions extracts the "&options=k1=v1,k2=v2" bag from INFO fields.
// Pairs split on their first '='; pairs with an empty key or value are dropped.
func parseOptions(fields []string) map[string]string {
	options := make(map[string]string)
	for _, field := range fields {
		bag, ok := strings.CutPrefix(field, "&options=")
		if !ok {
			bag, ok = strings.CutPrefix(field, "options=")
		}
		if !ok {
			continue
		}
		for _, pair := range strings.Split(bag, ",") {
			key, value, _ := strings.Cut(pair, "=")
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
			if key != "" && value != "" {
				options[key] = value
			}
		}
	}
	return options
}
