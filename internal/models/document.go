package models

import "time"

// Document lifecycle states stored in the status field.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Document represents an uploaded VAT certificate record in Firestore.
// The four extracted fields are written together by the extractor, never one at a time.
type Document struct {
	ID              string    `firestore:"-" json:"id"`
	UserID          string    `firestore:"userId" json:"userId"`
	FileID          string    `firestore:"fileId" json:"fileId"`
	FileName        string    `firestore:"fileName" json:"fileName"`
	FileDisplayName string    `firestore:"fileDisplayName,omitempty" json:"fileDisplayName,omitempty"`
	Size            int64     `firestore:"size" json:"size"`
	MimeType        string    `firestore:"mimeType" json:"mimeType"`
	Status          string    `firestore:"status" json:"status"`
	UploadedAt      time.Time `firestore:"uploadedAt" json:"uploadedAt"`
	FileHash        string    `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	PageCount       int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	ErrorDetails    string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	TaxPayerName    string    `firestore:"taxPayerName,omitempty" json:"taxPayerName,omitempty"`
	TradeName       string    `firestore:"tradeName,omitempty" json:"tradeName,omitempty"`
	TINNumber       string    `firestore:"tinNumber,omitempty" json:"tinNumber,omitempty"`
	VATNumber       string    `firestore:"vatNumber,omitempty" json:"vatNumber,omitempty"`
	ProcessedAt     time.Time `firestore:"processedAt,omitempty" json:"processedAt,omitempty"`
}

// HasExtractedData reports whether the extractor has written any field.
func (d *Document) HasExtractedData() bool {
	return d.TaxPayerName != "" || d.TradeName != "" || d.TINNumber != "" || d.VATNumber != ""
}

// ExtractionUpdate is the single mutation the persistence step applies.
type ExtractionUpdate struct {
	FileDisplayName string
	TaxPayerName    string
	TradeName       string
	TINNumber       string
	VATNumber       string
}
