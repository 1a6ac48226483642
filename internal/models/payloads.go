package models

// These structs define the JSON payloads exchanged between the uploader,
// the dispatch runtime (Cloud Workflows or a CloudEvent) and the extractor.

// ExtractionEvent is the one event emitted per successful upload.
type ExtractionEvent struct {
	URL         string `json:"url"`
	DocumentID  string `json:"docId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ExtractionResult is the output of one orchestrator run. DocumentID always
// echoes the triggering event.
type ExtractionResult struct {
	DocumentID string         `json:"docId"`
	Outcome    string         `json:"outcome"`
	Attempts   int            `json:"attempts"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	Saved      *PersistResult `json:"saved,omitempty"`
}

// Persistence outcomes carried in PersistResult.AddedToDB.
const (
	AddedToDBSuccess = "Success"
	AddedToDBFailed  = "Failed"
)

// PersistResult is the tagged result of the persistence step. On success the
// extracted fields are echoed; on failure only Error is set.
type PersistResult struct {
	AddedToDB       string `json:"addedToDb"`
	DocumentID      string `json:"docId,omitempty"`
	FileDisplayName string `json:"fileDisplayName,omitempty"`
	TaxPayerName    string `json:"taxPayerName,omitempty"`
	TradeName       string `json:"tradeName,omitempty"`
	TINNumber       string `json:"tinNumber,omitempty"`
	VATNumber       string `json:"vatNumber,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Succeeded reports whether the record was updated.
func (r PersistResult) Succeeded() bool {
	return r.AddedToDB == AddedToDBSuccess
}

// UploadResponse is returned to the client after a successful upload.
type UploadResponse struct {
	Success bool        `json:"success"`
	Data    *UploadData `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// UploadData identifies the newly created document.
type UploadData struct {
	DocumentID string `json:"docId"`
	FileName   string `json:"fileName"`
}

// DocumentView is the presentation shape of a single document.
type DocumentView struct {
	*Document
	Badge            string `json:"badge"`
	SizeLabel        string `json:"sizeLabel"`
	HasExtractedData bool   `json:"hasExtractedData"`
}

// DownloadResponse carries a short-lived signed URL for the stored PDF.
type DownloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
}
