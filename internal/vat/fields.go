// Package vat holds the VAT certificate field set and the logic that pulls it
// out of free-form model output.
package vat

import (
	"fmt"
	"regexp"
	"strings"
)

// Fields is the structured data extracted from a VAT registration certificate.
type Fields struct {
	TaxPayerName    string `json:"taxPayerName"`
	TradeName       string `json:"tradeName"`
	TINNumber       string `json:"tinNumber"`
	VATNumber       string `json:"vatNumber"`
	FileDisplayName string `json:"fileDisplayName,omitempty"`
}

// Verdict is the typed answer of the classification call.
type Verdict struct {
	IsVATCertificate bool   `json:"isVatCertificate"`
	DocumentKind     string `json:"documentKind"`
	Reason           string `json:"reason"`
}

// DefaultVATPrefix is the leading digits printed on registration certificates.
const DefaultVATPrefix = "220"

const tinPrefix = "200"

var (
	reTIN = regexp.MustCompile(`^\d{10}$`)
	reVAT = regexp.MustCompile(`^\d{9}$`)
)

func (f *Fields) trim() {
	f.TaxPayerName = strings.TrimSpace(f.TaxPayerName)
	f.TradeName = strings.TrimSpace(f.TradeName)
	f.TINNumber = strings.TrimSpace(f.TINNumber)
	f.VATNumber = strings.TrimSpace(f.VATNumber)
	f.FileDisplayName = strings.TrimSpace(f.FileDisplayName)
}

// DisplayName returns the human-readable name to store with the record.
func (f Fields) DisplayName() string {
	if f.FileDisplayName != "" {
		return f.FileDisplayName
	}
	name := f.TradeName
	if name == "" {
		name = f.TaxPayerName
	}
	return "VAT Certificate - " + name
}

// FormatWarnings lists advisory format mismatches. They are never grounds for
// rejecting a certificate, only for a log line.
func (f Fields) FormatWarnings(vatPrefix string) []string {
	if vatPrefix == "" {
		vatPrefix = DefaultVATPrefix
	}
	var warnings []string
	if !reTIN.MatchString(f.TINNumber) {
		warnings = append(warnings, fmt.Sprintf("tinNumber %q is not 10 digits", f.TINNumber))
	} else if !strings.HasPrefix(f.TINNumber, tinPrefix) {
		warnings = append(warnings, fmt.Sprintf("tinNumber %q does not start with %s", f.TINNumber, tinPrefix))
	}
	if !reVAT.MatchString(f.VATNumber) {
		warnings = append(warnings, fmt.Sprintf("vatNumber %q is not 9 digits", f.VATNumber))
	} else if !strings.HasPrefix(f.VATNumber, vatPrefix) {
		warnings = append(warnings, fmt.Sprintf("vatNumber %q does not start with %s", f.VATNumber, vatPrefix))
	}
	return warnings
}
