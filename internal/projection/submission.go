package projection

import (
	"time"

	"github.com/rzbill/docflow/internal/event"
)

// DocumentState holds the three step flags of one document.
type DocumentState struct {
	Classified    bool `json:"classified"`
	Indexed       bool `json:"indexed"`
	DataExtracted bool `json:"dataExtracted"`
}

// Done reports whether every step finished.
func (d DocumentState) Done() bool { return d.Classified && d.Indexed && d.DataExtracted }

// Submission is the projection record of one submission.
type Submission struct {
	SubmissionID   string                   `json:"submissionId"`
	UserID         string                   `json:"userId,omitempty"`
	Created        bool                     `json:"created"`
	TotalDocuments int                      `json:"totalDocuments"`
	Documents      map[string]DocumentState `json:"documents"`
	CreatedAt      time.Time                `json:"createdAt"`
	UpdatedAt      time.Time                `json:"updatedAt"`
	CompletedAt    *time.Time               `json:"completedAt"`
	// EmittedAt is set once the terminal event is in the log.
	EmittedAt *time.Time `json:"emittedAt,omitempty"`
	Version   uint64     `json:"version"`
}

// IsComplete evaluates the completion predicate. A submission without
// documents never completes.
func IsComplete(s Submission) bool {
	if !s.Created || s.TotalDocuments == 0 || len(s.Documents) != s.TotalDocuments {
		return false
	}
	for _, d := range s.Documents {
		if !d.Done() {
			return false
		}
	}
	return true
}

// Undeclared lists documents with state that are not part of the declared
// document count. It is only meaningful once Created is set.
func (s Submission) Undeclared(declared []string) []string {
	known := make(map[string]struct{}, len(declared))
	for _, d := range declared {
		known[d] = struct{}{}
	}
	var out []string
	for ref := range s.Documents {
		if _, ok := known[ref]; !ok {
			out = append(out, ref)
		}
	}
	return out
}

func (s Submission) clone() Submission {
	out := s
	out.Documents = make(map[string]DocumentState, len(s.Documents))
	for k, v := range s.Documents {
		out.Documents[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.EmittedAt != nil {
		t := *s.EmittedAt
		out.EmittedAt = &t
	}
	return out
}

// Apply folds ev into cur and reports whether anything changed. cur may be
// the zero Submission when no record exists. Events that do not affect the
// projection, and replays of already-applied events, return changed=false.
func Apply(cur Submission, ev event.Envelope, now time.Time) (Submission, bool) {
	next := cur.clone()
	if next.SubmissionID == "" {
		next.SubmissionID = ev.SubmissionID
	}
	changed := false

	switch p := ev.Payload.(type) {
	case event.SubmissionCreatedData:
		if next.Created {
			break
		}
		next.Created = true
		next.UserID = p.UserID
		seen := make(map[string]struct{}, len(p.Documents))
		for _, ref := range p.Documents {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			if _, ok := next.Documents[ref]; !ok {
				next.Documents[ref] = DocumentState{}
			}
		}
		next.TotalDocuments = len(seen)
		changed = true
	case event.DocumentClassifiedData:
		changed = setFlag(&next, ev.DocumentRef, func(d *DocumentState) *bool { return &d.Classified })
	case event.DocumentIndexedData:
		changed = setFlag(&next, ev.DocumentRef, func(d *DocumentState) *bool { return &d.Indexed })
	case event.DocumentDataExtractedData:
		changed = setFlag(&next, ev.DocumentRef, func(d *DocumentState) *bool { return &d.DataExtracted })
	}
	if !changed {
		return cur, false
	}

	now = now.UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	if next.CompletedAt == nil && IsComplete(next) {
		next.CompletedAt = &now
	}
	return next, true
}

func setFlag(s *Submission, ref string, flag func(*DocumentState) *bool) bool {
	d := s.Documents[ref]
	f := flag(&d)
	if *f {
		return false
	}
	*f = true
	s.Documents[ref] = d
	return true
}

// Handles lists the event types the projection consumes.
var Handles = []event.Type{
	event.SubmissionCreated,
	event.DocumentClassified,
	event.DocumentIndexed,
	event.DocumentDataExtracted,
}
