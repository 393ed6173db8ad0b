package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// TimeFormat is the ISO-8601 layout used on the wire.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// localTimeFormat accepts ISO-8601 timestamps without an offset; they are
// read as UTC.
const localTimeFormat = "2006-01-02T15:04:05.999999999"

// ErrMalformed marks envelopes that can never be handled.
var ErrMalformed = errors.New("malformed event")

// completionNamespace scopes deterministic terminal event ids.
var completionNamespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

// Envelope is an immutable event with its decoded payload.
type Envelope struct {
	ID           string
	Type         Type
	SubmissionID string
	DocumentRef  string
	Timestamp    time.Time
	Payload      Payload
}

type wireEnvelope struct {
	ID           string          `json:"id"`
	EventType    Type            `json:"eventType"`
	SubmissionID string          `json:"submissionId"`
	DocumentRef  *string         `json:"documentRef"`
	Timestamp    string          `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
}

// New builds an envelope with a fresh random id.
func New(submissionID, documentRef string, p Payload, now time.Time) Envelope {
	return Envelope{
		ID:           uuid.NewString(),
		Type:         p.EventType(),
		SubmissionID: submissionID,
		DocumentRef:  documentRef,
		Timestamp:    now.UTC(),
		Payload:      p,
	}
}

// Completed builds the terminal event for a submission. Its id is derived
// from the submission id, so every replica produces the same event.
func Completed(submissionID string, completedAt time.Time, documentCount int) Envelope {
	return Envelope{
		ID:           CompletionID(submissionID),
		Type:         SubmissionPreparationCompleted,
		SubmissionID: submissionID,
		Timestamp:    completedAt.UTC(),
		Payload: SubmissionPreparationCompletedData{
			SubmissionID:  submissionID,
			CompletedAt:   completedAt.UTC().Format(TimeFormat),
			DocumentCount: documentCount,
		},
	}
}

// CompletionID returns the id of the terminal event for submissionID.
func CompletionID(submissionID string) string {
	return uuid.NewSHA1(completionNamespace, []byte(submissionID)).String()
}

// Validate checks the structural rules every envelope must satisfy.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case !e.Type.Valid():
		return fmt.Errorf("%w: unknown eventType %q", ErrMalformed, e.Type)
	case e.SubmissionID == "":
		return fmt.Errorf("%w: missing submissionId", ErrMalformed)
	case e.Type.PerDocument() && e.DocumentRef == "":
		return fmt.Errorf("%w: %s requires documentRef", ErrMalformed, e.Type)
	case e.Payload == nil:
		return fmt.Errorf("%w: missing data", ErrMalformed)
	case e.Payload.EventType() != e.Type:
		return fmt.Errorf("%w: data is %s, envelope is %s", ErrMalformed, e.Payload.EventType(), e.Type)
	case e.Type == SubmissionPreparationCompleted && e.ID != CompletionID(e.SubmissionID):
		return fmt.Errorf("%w: %s id must be %s", ErrMalformed, e.Type, CompletionID(e.SubmissionID))
	}
	if p, ok := e.Payload.(SubmissionCreatedData); ok {
		if len(p.Documents) == 0 {
			return fmt.Errorf("%w: %s lists no documents", ErrMalformed, e.Type)
		}
		for _, ref := range p.Documents {
			if ref == "" {
				return fmt.Errorf("%w: %s lists an empty document ref", ErrMalformed, e.Type)
			}
		}
	}
	return nil
}

// parseTimestamp reads an RFC 3339 timestamp, or one without an offset as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return ts, nil
	}
	if local, lerr := time.ParseInLocation(localTimeFormat, s, time.UTC); lerr == nil {
		return local, nil
	}
	return time.Time{}, err
}

// MarshalJSON encodes the wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		ID:           e.ID,
		EventType:    e.Type,
		SubmissionID: e.SubmissionID,
		Timestamp:    e.Timestamp.UTC().Format(TimeFormat),
	}
	if e.DocumentRef != "" {
		ref := e.DocumentRef
		w.DocumentRef = &ref
	}
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", e.Type, err)
		}
		w.Data = data
	} else {
		w.Data = json.RawMessage("{}")
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form without validating it.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	out := Envelope{ID: w.ID, Type: w.EventType, SubmissionID: w.SubmissionID, Timestamp: ts.UTC()}
	if w.DocumentRef != nil {
		out.DocumentRef = *w.DocumentRef
	}
	if p := newPayload(w.EventType); p != nil {
		data := w.Data
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			data = []byte("{}")
		}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("%w: %s data: %v", ErrMalformed, w.EventType, err)
		}
		out.Payload = reflect.ValueOf(p).Elem().Interface().(Payload)
	}
	*e = out
	return nil
}

// Decode parses and validates a wire envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Encode validates and serializes e.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
