package eventlog

import (
	"errors"
	"testing"
)

func TestRecordRoundtrip(t *testing.T) {
	rec := EncodeRecord([]byte("e-1"), []byte(`{"id":"e-1"}`))
	h, p, err := DecodeRecord(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(h) != "e-1" || string(p) != `{"id":"e-1"}` {
		t.Fatalf("got %q %q", h, p)
	}
}

func TestRecordCRCFail(t *testing.T) {
	rec := EncodeRecord([]byte("x"), []byte("y"))
	rec[len(rec)-1] ^= 0xFF
	if _, _, err := DecodeRecord(rec); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if _, _, err := DecodeRecord([]byte{0x7f, 1, 2, 3, 4}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for short header, got %v", err)
	}
}
