package protocol

import (
	"slices"
	"testing"
)

func collect(body string, opts ...DecodeOption) []Record {
	return slices.Collect(Decode(body, opts...))
}

func TestDecodeSplitsAndClassifies(t *testing.T) {
	body := "ATTLOG\t1001\t2026-03-01 08:00:12\t0\t1\r\n" +
		"\n   \n" +
		"USER\t1001\tJane\t0004521\t14\n" +
		"FP\t1001\t6\tTSFTUzIx\n" +
		"FACE\t1001\tRkFDRQ==\n" +
		"OK 42\n" +
		"OPERLOG\tsomething\n"

	recs := collect(body)
	wantKinds := []Kind{KindAttLog, KindUser, KindFP, KindFace, KindAck, KindUnknown}
	if len(recs) != len(wantKinds) {
		t.Fatalf("got %d records, want %d", len(recs), len(wantKinds))
	}
	for i, want := range wantKinds {
		if recs[i].Kind != want {
			t.Errorf("record %d kind = %s, want %s", i, recs[i].Kind, want)
		}
		if recs[i].Insufficient {
			t.Errorf("record %d unexpectedly insufficient", i)
		}
	}

	if got := recs[0].Field(4); got != "1" {
		t.Errorf("ATTLOG verify field = %q, want 1 (trailing \\r must be trimmed)", got)
	}
	if recs[4].CommandID != 42 {
		t.Errorf("ack CommandID = %d, want 42", recs[4].CommandID)
	}
}

func TestDecodeInsufficientFields(t *testing.T) {
	tests := []struct {
		line string
		kind Kind
	}{
		{"ATTLOG", KindAttLog},
		{"ATTLOG\t1001\t2026-03-01 08:00:12", KindAttLog},
		{"USER", KindUser},
		{"FP\t1001\t6", KindFP},
		{"FACE\t1001", KindFace},
		{"OK", KindAck},
		{"OK abc", KindAck},
		{"ERROR x failed", KindError},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			rec := DecodeLine(tt.line, "")
			if rec.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", rec.Kind, tt.kind)
			}
			if !rec.Insufficient {
				t.Error("Insufficient = false, want true")
			}
		})
	}
}

func TestDecodeCommandResults(t *testing.T) {
	tests := []struct {
		line    string
		kind    Kind
		id      int64
		message string
	}{
		{"OK 7", KindAck, 7, ""},
		{"OK 12 trailing", KindAck, 12, ""},
		{"OK  13", KindAck, 13, ""},
		{"ERROR 8 device busy", KindError, 8, "device busy"},
		{"ERROR 9", KindError, 9, ""},
		{"ID=10&Return=0&CMD=DATA", KindAck, 10, ""},
		{"ID=11&Return=-1002&CMD=DATA", KindError, 11, "Return=-1002 CMD=DATA"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			rec := DecodeLine(tt.line, "")
			if rec.Kind != tt.kind || rec.CommandID != tt.id || rec.Message != tt.message {
				t.Errorf("DecodeLine() = {%s %d %q}, want {%s %d %q}",
					rec.Kind, rec.CommandID, rec.Message, tt.kind, tt.id, tt.message)
			}
			if rec.Insufficient {
				t.Error("Insufficient = true, want false")
			}
		})
	}
}

func TestDecodeInfoOptions(t *testing.T) {
	rec := DecodeLine("INFO\tVer 6.60\t&options=FingFun=1,FaceFun=0,,=x,Empty=,DeviceName=Gate A=1", "")

	if rec.Kind != KindInfo || rec.Insufficient {
		t.Fatalf("got kind %s insufficient %v", rec.Kind, rec.Insufficient)
	}
	want := map[string]string{"FingFun": "1", "FaceFun": "0", "DeviceName": "Gate A=1"}
	if len(rec.Options) != len(want) {
		t.Fatalf("Options = %v, want %v", rec.Options, want)
	}
	for k, v := range want {
		if rec.Options[k] != v {
			t.Errorf("Options[%s] = %q, want %q", k, rec.Options[k], v)
		}
	}
}

func TestDecodeKeyedLayout(t *testing.T) {
	rec := DecodeLine("FP PIN=1001\tFID=6\tSize=8\tValid=1\tTMP=TSFTUzIx==", "")

	if rec.Kind != KindFP || rec.Insufficient {
		t.Fatalf("got kind %s insufficient %v", rec.Kind, rec.Insufficient)
	}
	if rec.Field(0) != "FP" || rec.Field(1) != "PIN=1001" || rec.Field(5) != "TMP=TSFTUzIx==" {
		t.Errorf("Fields = %q", rec.Fields)
	}

	if rec := DecodeLine("HELLO world\tx", ""); rec.Kind != KindUnknown {
		t.Errorf("unknown spaced tag decoded as %s", rec.Kind)
	}
}

func TestDecodeTableImpliesKind(t *testing.T) {
	body := "1001\t2026-03-01 08:00:12\t0\t1\t0\t0\nOK 3\n"

	recs := collect(body, WithTable(KindFromTable("attlog")))
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Kind != KindAttLog || recs[0].Field(1) != "1001" {
		t.Errorf("untagged line decoded as %s %v", recs[0].Kind, recs[0].Fields)
	}
	if !recs[0].Untagged {
		t.Error("untagged line has Untagged = false")
	}
	if recs[1].Kind != KindAck {
		t.Errorf("ack line decoded as %s", recs[1].Kind)
	}

	tagged := collect("ATTLOG\t1001\t2026-03-01 08:00:12\t0\t1\n", WithTable(KindAttLog))
	if len(tagged) != 1 || tagged[0].Untagged {
		t.Errorf("tagged line under table hint = %+v, want Untagged false", tagged)
	}

	if recs := collect(body); recs[0].Kind != KindUnknown {
		t.Errorf("without table hint kind = %s, want UNKNOWN", recs[0].Kind)
	}
}

func TestDecodeIsRestartableAndStoppable(t *testing.T) {
	seq := Decode("USER\t1\nUSER\t2\nUSER\t3\n")

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("iterations yielded %d and %d records, want 3 each", len(first), len(second))
	}

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("early break consumed %d records", n)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	for _, body := range []string{"", "\n\n", " \t \n"} {
		if recs := collect(body); len(recs) != 0 {
			t.Errorf("Decode(%q) yielded %d records", body, len(recs))
		}
	}
}

func TestRecordTruncated(t *testing.T) {
	rec := Record{Raw: "ATTLOG\tabcdef"}
	if got := rec.Truncated(6); got != "ATTLOG..." {
		t.Errorf("Truncated(6) = %q", got)
	}
	if got := rec.Truncated(100); got != rec.Raw {
		t.Errorf("Truncated(100) = %q", got)
	}
}
