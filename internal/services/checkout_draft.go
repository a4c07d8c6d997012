package services

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/hanko-field/checkout/internal/domain"
)

// DraftSanitizer strips markup from free-text form fields before they are persisted.
type DraftSanitizer struct {
	policy *bluemonday.Policy
}

// NewDraftSanitizer returns a sanitizer that removes every HTML element.
func NewDraftSanitizer() *DraftSanitizer {
	return &DraftSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text sanitizes a single value: tags are removed, the result is NFC-normalised and trimmed.
func (s *DraftSanitizer) Text(value string) string {
	if s == nil || s.policy == nil {
		return strings.TrimSpace(norm.NFC.String(value))
	}
	cleaned := s.policy.Sanitize(value)
	// StrictPolicy escapes entities. Angle brackets stay escaped.
	cleaned = htmlEntityReplacer.Replace(cleaned)
	return strings.TrimSpace(norm.NFC.String(cleaned))
}

var htmlEntityReplacer = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`)

// Form returns a sanitized copy. Enumerated fields are passed through.
func (s *DraftSanitizer) Form(form domain.CheckoutForm) domain.CheckoutForm {
	out := form
	out.FullName = s.Text(form.FullName)
	out.Email = s.Text(form.Email)
	out.PhoneNumber = s.Text(form.PhoneNumber)
	out.Address = s.Text(form.Address)
	out.City = s.Text(form.City)
	out.PostalCode = s.Text(form.PostalCode)
	out.Country = s.Text(form.Country)
	out.DeliveryLocation = strings.TrimSpace(form.DeliveryLocation)
	out.OrderNotes = s.Text(form.OrderNotes)
	return out
}
