package vat

import (
	"errors"
	"strings"
	"testing"
)

func TestParseFieldsIgnoresSurroundingText(t *testing.T) {
	text := `Here is the data I extracted from the certificate:
{"taxPayerName":"Acme Ltd","tradeName":"Acme","tinNumber":"2001234567","vatNumber":"220987654"}
Let me know if you need anything else.`

	got, err := ParseFields(text)
	if err != nil {
		t.Fatalf("ParseFields() error = %v", err)
	}
	want := Fields{TaxPayerName: "Acme Ltd", TradeName: "Acme", TINNumber: "2001234567", VATNumber: "220987654"}
	if got != want {
		t.Fatalf("ParseFields() = %+v, want %+v", got, want)
	}
}

func TestParseFieldsCodeFenceAndWhitespace(t *testing.T) {
	text := "```json\n{\n  \"taxPayerName\": \"  Blue Nile Trading PLC \",\n  \"tradeName\": \"Blue Nile\",\n  \"tinNumber\": \"2000111222\",\n  \"vatNumber\": \"220123123\",\n  \"fileDisplayName\": \"Blue Nile VAT Certificate\"\n}\n```"

	got, err := ParseFields(text)
	if err != nil {
		t.Fatalf("ParseFields() error = %v", err)
	}
	if got.TaxPayerName != "Blue Nile Trading PLC" {
		t.Fatalf("expected trimmed taxpayer name, got %q", got.TaxPayerName)
	}
	if got.DisplayName() != "Blue Nile VAT Certificate" {
		t.Fatalf("expected model display name, got %q", got.DisplayName())
	}
}

func TestParseFieldsNoJSONObject(t *testing.T) {
	_, err := ParseFields("This is an invoice, not a VAT certificate.")
	if !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}
}

func TestParseFieldsUndecodable(t *testing.T) {
	cases := map[string]string{
		"broken json":    `Result: {"taxPayerName": "Acme", "tradeName": }`,
		"missing field":  `{"taxPayerName":"Acme Ltd","tradeName":"Acme","tinNumber":"2001234567"}`,
		"no trade name":  `{"taxPayerName":"Acme Ltd","tinNumber":"2001234567","vatNumber":"220987654"}`,
		"wrong type":     `{"taxPayerName":"Acme Ltd","tradeName":"Acme","tinNumber":2001234567,"vatNumber":"220987654"}`,
		"blank value":    `{"taxPayerName":"   ","tradeName":"Acme","tinNumber":"2001234567","vatNumber":"220987654"}`,
		"incomplete doc": `{"status":"incomplete","missing":["vatNumber"]}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFields(text)
			if !errors.Is(err, ErrUndecodable) {
				t.Fatalf("expected ErrUndecodable, got %v", err)
			}
		})
	}
}

func TestParseFieldsAcceptsBlankTradeName(t *testing.T) {
	got, err := ParseFields(`{"taxPayerName":"Abebe Kebede","tradeName":"  ","tinNumber":"2001234567","vatNumber":"220987654"}`)
	if err != nil {
		t.Fatalf("ParseFields() error = %v", err)
	}
	if got.TradeName != "" {
		t.Fatalf("expected empty trade name, got %q", got.TradeName)
	}
	if got.DisplayName() != "VAT Certificate - Abebe Kebede" {
		t.Fatalf("DisplayName() = %q", got.DisplayName())
	}
}

func TestFindJSONObjectFallsBackToBalancedBlock(t *testing.T) {
	text := `{"taxPayerName":"Acme Ltd","tradeName":"Acme {Holdings}","tinNumber":"2001234567","vatNumber":"220987654"} (note: braces } in prose)`

	block, ok := FindJSONObject(text)
	if !ok {
		t.Fatalf("expected a JSON block")
	}
	if !strings.HasSuffix(block, `"220987654"}`) {
		t.Fatalf("expected balanced block, got %q", block)
	}
	fields, err := ParseFields(text)
	if err != nil {
		t.Fatalf("ParseFields() error = %v", err)
	}
	if fields.TradeName != "Acme {Holdings}" {
		t.Fatalf("unexpected trade name %q", fields.TradeName)
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict(`{"isVatCertificate": false, "documentKind": "invoice", "reason": "Document is titled TAX INVOICE"}`)
	if err != nil {
		t.Fatalf("ParseVerdict() error = %v", err)
	}
	if v.IsVATCertificate || v.DocumentKind != "invoice" {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if _, err := ParseVerdict("no idea"); !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	f := Fields{TaxPayerName: "Acme Ltd", TradeName: "Acme"}
	if got := f.DisplayName(); got != "VAT Certificate - Acme" {
		t.Fatalf("DisplayName() = %q", got)
	}
	f.TradeName = ""
	if got := f.DisplayName(); got != "VAT Certificate - Acme Ltd" {
		t.Fatalf("DisplayName() = %q", got)
	}
}

func TestFormatWarnings(t *testing.T) {
	ok := Fields{TINNumber: "2001234567", VATNumber: "220987654"}
	if w := ok.FormatWarnings(""); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}

	odd := Fields{TINNumber: "12345", VATNumber: "230987654"}
	w := odd.FormatWarnings("220")
	if len(w) != 2 {
		t.Fatalf("expected 2 warnings, got %v", w)
	}
	if w := odd.FormatWarnings("230"); len(w) != 1 {
		t.Fatalf("expected only the TIN warning with prefix 230, got %v", w)
	}
}
