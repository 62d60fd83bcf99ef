package dbformat

import "testing"

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Off: 123456789, NOff: 42, Len: 9001, NLen: 17}
	buf := make([]byte, RecordSize)
	r.Encode(buf)

	got := DecodeRecord(buf)
	if got != r {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestRecordSizeIs22(t *testing.T) {
	if RecordSize != 22 {
		t.Fatalf("RecordSize = %d, want 22", RecordSize)
	}
}

func TestRecordsView(t *testing.T) {
	recs := []Record{
		{Off: 0, NOff: 0, Len: 5, NLen: 2},
		{Off: 5, NOff: 2, Len: 10, NLen: 3},
	}
	buf := make([]byte, len(recs)*RecordSize)
	for i, r := range recs {
		r.Encode(buf[i*RecordSize : (i+1)*RecordSize])
	}

	view := NewRecords(buf, len(recs))
	if view.Len() != len(recs) {
		t.Fatalf("Len() = %d, want %d", view.Len(), len(recs))
	}
	for i, want := range recs {
		if got := view.At(i); got != want {
			t.Fatalf("At(%d) = %+v, want %+v", i, got, want)
		}
	}
}
