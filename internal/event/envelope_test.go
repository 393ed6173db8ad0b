package event

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeTypedPayload(t *testing.T) {
	raw := `{"id":"e1","eventType":"SubmissionCreated","submissionId":"S1","documentRef":null,
		"timestamp":"2026-01-02T03:04:05.000Z","data":{"userId":"u1","documents":["D1","D2"]}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := ev.Payload.(SubmissionCreatedData)
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	if p.UserID != "u1" || len(p.Documents) != 2 || ev.DocumentRef != "" {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"unknown type":  `{"id":"e1","eventType":"Nope","submissionId":"S1","timestamp":"2026-01-02T03:04:05Z","data":{}}`,
		"missing doc":   `{"id":"e1","eventType":"DocumentIndexed","submissionId":"S1","timestamp":"2026-01-02T03:04:05Z","data":{}}`,
		"missing id":    `{"eventType":"DocumentIndexed","submissionId":"S1","documentRef":"D1","timestamp":"2026-01-02T03:04:05Z","data":{}}`,
		"bad data":      `{"id":"e1","eventType":"SubmissionCreated","submissionId":"S1","timestamp":"2026-01-02T03:04:05Z","data":{"documents":"D1"}}`,
		"bad timestamp": `{"id":"e1","eventType":"DocumentIndexed","submissionId":"S1","documentRef":"D1","timestamp":"yesterday","data":{}}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestDecodeExtractedFieldsKeepTypes(t *testing.T) {
	raw := `{"id":"e1","eventType":"DocumentDataExtracted","submissionId":"S1","documentRef":"D1",
		"timestamp":"2026-01-02T03:04:05Z","data":{"fields":{"invoiceTotal":1234.5,"paid":true,"vendor":"ACME","dueDate":null}}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f := ev.Payload.(DocumentDataExtractedData).Fields
	if f["invoiceTotal"] != 1234.5 || f["paid"] != true || f["vendor"] != "ACME" {
		t.Fatalf("fields = %#v", f)
	}
	if v, ok := f["dueDate"]; !ok || v != nil {
		t.Fatalf("dueDate = %#v, %v", v, ok)
	}
}

func TestDecodeTimestampLayouts(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := map[string]time.Time{
		"2026-01-02T03:04:05Z":           want,
		"2026-01-02T05:04:05+02:00":      want,
		"2026-01-02T03:04:05":            want,
		"2026-01-02T03:04:05.250":        want.Add(250 * time.Millisecond),
		"2026-01-02T03:04:05.123456789Z": want.Add(123456789),
	}
	for ts, exp := range cases {
		raw := `{"id":"e1","eventType":"DocumentIndexed","submissionId":"S1","documentRef":"D1","timestamp":"` + ts + `","data":{}}`
		ev, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", ts, err)
		}
		if !ev.Timestamp.Equal(exp) || ev.Timestamp.Location() != time.UTC {
			t.Fatalf("%s: got %v", ts, ev.Timestamp)
		}
	}
}

func TestValidateSubmissionCreatedNeedsDocuments(t *testing.T) {
	now := time.Now()
	for name, docs := range map[string][]string{"none": nil, "empty ref": {"D1", ""}} {
		ev := New("S1", "", SubmissionCreatedData{UserID: "u", Documents: docs}, now)
		if err := ev.Validate(); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestValidateCompletionRequiresDerivedID(t *testing.T) {
	ev := Completed("S1", time.Now(), 1)
	ev.ID = "not-derived"
	if err := ev.Validate(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := Encode(ev); !errors.Is(err, ErrMalformed) {
		t.Fatalf("encode should refuse the event, got %v", err)
	}
}

func TestEncodeDecodeKeepsDocumentRef(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := New("S1", "D2", DocumentClassifiedData{Label: "invoice", Confidence: 0.9}, now)
	b, err := Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), `"documentRef":"D2"`) || !strings.Contains(string(b), `"timestamp":"2026-03-01T10:00:00.000Z"`) {
		t.Fatalf("unexpected wire form: %s", b)
	}
	back, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.ID != ev.ID || back.DocumentRef != "D2" || back.Payload.(DocumentClassifiedData).Label != "invoice" {
		t.Fatalf("got %+v", back)
	}
}

func TestCompletedIsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Completed("S1", at, 2)
	b := Completed("S1", at.Add(time.Hour), 2)
	if a.ID != b.ID {
		t.Fatalf("completion ids differ: %s %s", a.ID, b.ID)
	}
	if a.ID == Completed("S2", at, 2).ID {
		t.Fatalf("completion ids collide across submissions")
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if a.Payload.(SubmissionPreparationCompletedData).DocumentCount != 2 {
		t.Fatalf("payload: %+v", a.Payload)
	}
}
