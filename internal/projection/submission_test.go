package projection

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/rzbill/docflow/internal/event"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func created(sub string, docs ...string) event.Envelope {
	return event.New(sub, "", event.SubmissionCreatedData{UserID: "u1", Documents: docs}, t0)
}

func classified(sub, doc string) event.Envelope {
	return event.New(sub, doc, event.DocumentClassifiedData{Label: "invoice"}, t0)
}

func indexed(sub, doc string) event.Envelope {
	return event.New(sub, doc, event.DocumentIndexedData{}, t0)
}

func extracted(sub, doc string) event.Envelope {
	return event.New(sub, doc, event.DocumentDataExtractedData{}, t0)
}

func fold(evs []event.Envelope) Submission {
	var s Submission
	for i, ev := range evs {
		s, _ = Apply(s, ev, t0.Add(time.Duration(i)*time.Second))
	}
	return s
}

func TestApplyScenarioCompletesOnLastEvent(t *testing.T) {
	evs := []event.Envelope{
		created("S1", "D1", "D2"),
		classified("S1", "D1"),
		indexed("S1", "D2"),
		extracted("S1", "D1"),
		indexed("S1", "D1"),
		classified("S1", "D2"),
		extracted("S1", "D2"),
	}
	var s Submission
	for i, ev := range evs {
		var changed bool
		s, changed = Apply(s, ev, t0.Add(time.Duration(i)*time.Second))
		if !changed {
			t.Fatalf("event %d should change the projection", i+1)
		}
		if i < len(evs)-1 && s.CompletedAt != nil {
			t.Fatalf("completed early after event %d", i+1)
		}
	}
	if s.CompletedAt == nil || !s.CompletedAt.Equal(t0.Add(6*time.Second)) {
		t.Fatalf("expected completion at the seventh event, got %v", s.CompletedAt)
	}
	if s.TotalDocuments != 2 || len(s.Documents) != 2 {
		t.Fatalf("unexpected matrix: %+v", s)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := fold([]event.Envelope{created("S1", "D1")})
	before, _ := json.Marshal(s)
	_, _ = Apply(s, indexed("S1", "D1"), t0)
	after, _ := json.Marshal(s)
	if string(before) != string(after) {
		t.Fatalf("Apply mutated its input snapshot")
	}
}

func TestApplyReplayIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := []event.Envelope{
		created("S1", "D1", "D2", "D3"),
		classified("S1", "D1"), indexed("S1", "D1"), extracted("S1", "D1"),
		classified("S1", "D2"), indexed("S1", "D2"), extracted("S1", "D2"),
		classified("S1", "D3"), indexed("S1", "D3"), extracted("S1", "D3"),
	}
	for round := 0; round < 50; round++ {
		evs := append([]event.Envelope(nil), base...)
		rng.Shuffle(len(evs), func(i, j int) { evs[i], evs[j] = evs[j], evs[i] })
		want := fold(evs)
		prefix := evs[:rng.Intn(len(evs)+1)]

		got := want
		for _, ev := range prefix {
			var changed bool
			got, changed = Apply(got, ev, t0.Add(time.Hour))
			if changed {
				t.Fatalf("replaying %s/%s changed the record", ev.Type, ev.DocumentRef)
			}
		}
		wantDocs, _ := json.Marshal(want.Documents)
		gotDocs, _ := json.Marshal(got.Documents)
		if string(wantDocs) != string(gotDocs) || !reflect.DeepEqual(want.CompletedAt, got.CompletedAt) {
			t.Fatalf("replay diverged:\nwant %s %v\ngot  %s %v", wantDocs, want.CompletedAt, gotDocs, got.CompletedAt)
		}
		if want.CompletedAt == nil {
			t.Fatalf("all steps applied but not complete (order %d)", round)
		}
	}
}

func TestStepBeforeCreatedCreatesPlaceholder(t *testing.T) {
	s := fold([]event.Envelope{
		classified("S1", "D1"), indexed("S1", "D1"), extracted("S1", "D1"),
	})
	if s.Created || s.CompletedAt != nil {
		t.Fatalf("placeholder must not complete: %+v", s)
	}
	if !s.Documents["D1"].Done() {
		t.Fatalf("placeholder lost its flags: %+v", s.Documents)
	}
	s, _ = Apply(s, created("S1", "D1"), t0.Add(time.Minute))
	if s.CompletedAt == nil {
		t.Fatalf("expected completion once the document list is known")
	}
}

func TestUndeclaredDocumentBlocksCompletion(t *testing.T) {
	s := fold([]event.Envelope{
		classified("S1", "DX"),
		created("S1", "D1"),
		classified("S1", "D1"), indexed("S1", "D1"), extracted("S1", "D1"),
	})
	if s.CompletedAt != nil {
		t.Fatalf("stray document should keep the submission open")
	}
	if got := s.Undeclared([]string{"D1"}); len(got) != 1 || got[0] != "DX" {
		t.Fatalf("undeclared = %v", got)
	}
}

func TestDuplicateDocumentsCountOnce(t *testing.T) {
	s := fold([]event.Envelope{created("S1", "D1", "D1")})
	if s.TotalDocuments != 1 {
		t.Fatalf("total = %d", s.TotalDocuments)
	}
	if again, changed := Apply(s, created("S1", "D1", "D2"), t0); changed || again.TotalDocuments != 1 {
		t.Fatalf("second SubmissionCreated must be ignored")
	}
}

func TestSubmissionWithoutDocumentsNeverCompletes(t *testing.T) {
	s, changed := Apply(Submission{}, created("S1"), t0)
	if !changed || !s.Created || s.TotalDocuments != 0 {
		t.Fatalf("unexpected record: %+v", s)
	}
	if s.CompletedAt != nil || IsComplete(s) {
		t.Fatalf("an empty submission must not complete")
	}
}

func TestUnrelatedEventsAreIgnored(t *testing.T) {
	up := event.New("S1", "D1", event.DocumentUploadedData{StoragePath: "gs://b/o"}, t0)
	if _, changed := Apply(Submission{}, up, t0); changed {
		t.Fatalf("upload should not touch the projection")
	}
}
