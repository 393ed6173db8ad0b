package event

// Type is the closed set of event kinds.
type Type string

const (
	SubmissionCreated              Type = "SubmissionCreated"
	DocumentUploaded               Type = "DocumentUploaded"
	DocumentContentExtracted       Type = "DocumentContentExtracted"
	DocumentClassified             Type = "DocumentClassified"
	DocumentIndexed                Type = "DocumentIndexed"
	DocumentDataExtracted          Type = "DocumentDataExtracted"
	SubmissionPreparationCompleted Type = "SubmissionPreparationCompleted"
)

// Types lists every known event type.
var Types = []Type{
	SubmissionCreated,
	DocumentUploaded,
	DocumentContentExtracted,
	DocumentClassified,
	DocumentIndexed,
	DocumentDataExtracted,
	SubmissionPreparationCompleted,
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// PerDocument reports whether events of this type must carry a documentRef.
func (t Type) PerDocument() bool {
	switch t {
	case DocumentUploaded, DocumentContentExtracted, DocumentClassified, DocumentIndexed, DocumentDataExtracted:
		return true
	}
	return false
}

// Payload is implemented by every typed event body.
type Payload interface {
	EventType() Type
}

type SubmissionCreatedData struct {
	UserID    string   `json:"userId"`
	Documents []string `json:"documents"`
}

type DocumentUploadedData struct {
	StoragePath string `json:"storagePath"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

type DocumentContentExtractedData struct {
	TextPath  string `json:"textPath"`
	PageCount int    `json:"pageCount,omitempty"`
}

type DocumentClassifiedData struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
}

type DocumentIndexedData struct {
	Index      string `json:"index,omitempty"`
	ChunkCount int    `json:"chunkCount,omitempty"`
}

// DocumentDataExtractedData carries extracted values as decoded JSON
// (strings, numbers, booleans, nested objects).
type DocumentDataExtractedData struct {
	Fields map[string]any `json:"fields,omitempty"`
}

// SubmissionPreparationCompletedData is the terminal signal.
type SubmissionPreparationCompletedData struct {
	SubmissionID  string `json:"submissionId"`
	CompletedAt   string `json:"completedAt"`
	DocumentCount int    `json:"documentCount"`
}

func (SubmissionCreatedData) EventType() Type        { return SubmissionCreated }
func (DocumentUploadedData) EventType() Type         { return DocumentUploaded }
func (DocumentContentExtractedData) EventType() Type { return DocumentContentExtracted }
func (DocumentClassifiedData) EventType() Type       { return DocumentClassified }
func (DocumentIndexedData) EventType() Type          { return DocumentIndexed }
func (DocumentDataExtractedData) EventType() Type    { return DocumentDataExtracted }
func (SubmissionPreparationCompletedData) EventType() Type {
	return SubmissionPreparationCompleted
}

func newPayload(t Type) Payload {
	switch t {
	case SubmissionCreated:
		return &SubmissionCreatedData{}
	case DocumentUploaded:
		return &DocumentUploadedData{}
	case DocumentContentExtracted:
		return &DocumentContentExtractedData{}
	case DocumentClassified:
		return &DocumentClassifiedData{}
	case DocumentIndexed:
		return &DocumentIndexedData{}
	case DocumentDataExtracted:
		return &DocumentDataExtractedData{}
	case SubmissionPreparationCompleted:
		return &SubmissionPreparationCompletedData{}
	}
	return nil
}
