package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/sony/gobreaker/v2"

	"github.com/Lllllllleong/fiscallens/internal/vat"
)

// --- Classifier Model Prompts ---
const ClassifierSystemPrompt = "You are a document classification tool for tax paperwork. You decide whether a PDF is a VAT registration certificate. You must output your response as a single valid JSON object."
const ClassifierUserPrompt = `Classify the provided PDF document.

A VAT certificate is a government-issued document titled VAT REGISTRATION CERTIFICATE, VAT CERTIFICATE or a close variation, proving that a taxpayer is registered for VAT.
Invoices, receipts, credit notes, quotations and statements are NOT VAT certificates, even when they print a VAT number.

Return exactly one JSON object with these keys:
- "isVatCertificate": true only if the document is specifically a VAT certificate.
- "documentKind": a short label such as "vat_certificate", "invoice", "receipt", "credit_note" or "other".
- "reason": one sentence explaining the decision.`

// --- Extractor Model Prompts ---
const ExtractorSystemPrompt = `You are an AI powered VAT certificate scanning assistant. Your primary role is to accurately extract and structure relevant information from scanned VAT certificates.
Ensure high accuracy by detecting OCR errors and correcting misread text when possible. Handle multiple formats, languages and certificate layouts.`

const extractorFieldsPrompt = `Extract the following details from the VAT certificate:
- taxPayerName: the name under the heading that says Taxpayer Name.
- tradeName: the name under the heading that says Trade Name.
- tinNumber: the number under the heading that says TIN. This is a 10 digit number starting with 200.
- vatNumber: the number under the heading that says VAT. This is a 9 digit number starting with %s.
- fileDisplayName: a short human-readable name for this certificate to show in a document list.

Return the structured output as a single JSON object, for example:
{
  "taxPayerName": "Tax Payer Name",
  "tradeName": "Trade Name",
  "tinNumber": "2000111222",
  "vatNumber": "%s123123",
  "fileDisplayName": "Trade Name VAT Certificate"
}`

const combinedGuardPrompt = `Make sure the document is called VAT REGISTRATION CERTIFICATE or VAT CERTIFICATE or any variation.
Ensure that the document is not an invoice, receipt, or credit note. If the document is not specifically a VAT certificate, do not output any JSON at all; reply with one sentence saying it is not a VAT certificate.

`

// ExtractorUserPrompt renders the extraction instruction. When combined is
// true the document-type guard is folded into the same request and signalled
// by the absence of a JSON object.
func ExtractorUserPrompt(vatPrefix string, combined bool) string {
	if vatPrefix == "" {
		vatPrefix = vat.DefaultVATPrefix
	}
	prompt := fmt.Sprintf(extractorFieldsPrompt, vatPrefix, vatPrefix)
	if combined {
		return combinedGuardPrompt + prompt
	}
	return prompt
}

// VertexConfig selects the model and prompt variant.
type VertexConfig struct {
	ProjectID string
	Region    string
	Model     string
	VATPrefix string
	// Combined puts classification and extraction into one request.
	Combined bool
}

// VertexClient holds the pre-configured generative models for VAT certificates.
type VertexClient struct {
	ClassifierModel *genai.GenerativeModel
	ExtractorModel  *genai.GenerativeModel
	extractPrompt   string
	baseClient      *genai.Client
	breaker         *gobreaker.CircuitBreaker[*genai.GenerateContentResponse]
}

// newModelBreaker opens after a majority of at least five recent calls fail
// and probes again after 30s. Cancelled calls don't count as failures.
func newModelBreaker(name string) *gobreaker.CircuitBreaker[*genai.GenerateContentResponse] {
	return gobreaker.NewCircuitBreaker[*genai.GenerateContentResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Model circuit breaker changed state.", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// IsCircuitOpen reports whether err came from an open model breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// NewVertexClient creates a new client holding both models.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the classifier model ---
	classifierModel := baseClient.GenerativeModel(cfg.Model)
	classifierModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ClassifierSystemPrompt)},
	}
	classifierModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"isVatCertificate": {Type: genai.TypeBoolean},
				"documentKind":     {Type: genai.TypeString},
				"reason":           {Type: genai.TypeString},
			},
			Required: []string{"isVatCertificate", "documentKind", "reason"},
		},
		Temperature: genai.Ptr[float32](0.0),
	}

	// --- Configure the extractor model ---
	// Free-text output: in combined mode an answer without JSON means rejection.
	extractorModel := baseClient.GenerativeModel(cfg.Model)
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	extractorModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.0),
		MaxOutputTokens: genai.Ptr[int32](3094),
	}

	return &VertexClient{
		ClassifierModel: classifierModel,
		ExtractorModel:  extractorModel,
		extractPrompt:   ExtractorUserPrompt(cfg.VATPrefix, cfg.Combined),
		baseClient:      baseClient,
		breaker:         newModelBreaker("vertex-" + cfg.Model),
	}, nil
}

// Classify asks the classifier model whether the PDF at fileURI is a VAT certificate.
func (c *VertexClient) Classify(ctx context.Context, fileURI string) (vat.Verdict, error) {
	resp, err := c.generate(ctx, c.ClassifierModel, pdfPart(fileURI), genai.Text(ClassifierUserPrompt))
	if err != nil {
		return vat.Verdict{}, fmt.Errorf("failed to classify document with gemini: %w", err)
	}
	verdict, err := vat.ParseVerdict(responseText(resp))
	if err != nil {
		return vat.Verdict{}, fmt.Errorf("failed to parse classifier verdict: %w", err)
	}
	return verdict, nil
}

// Extract sends the PDF and the extraction instruction and returns the raw
// text of the answer. Transport and model errors are returned as-is (wrapped).
func (c *VertexClient) Extract(ctx context.Context, fileURI string) (string, error) {
	resp, err := c.generate(ctx, c.ExtractorModel, pdfPart(fileURI), genai.Text(c.extractPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return responseText(resp), nil
}

func (c *VertexClient) generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return c.breaker.Execute(func() (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(ctx, parts...)
	})
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func pdfPart(fileURI string) genai.FileData {
	return genai.FileData{
		MIMEType: "application/pdf",
		FileURI:  fileURI,
	}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}
