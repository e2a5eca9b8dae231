package mrf

// RateRecord is one flattened tuple emitted by the streaming parser: one per
// (in-network item × rate group × price entry × provider attribution).
type RateRecord struct {
	Payer           string
	BillingCode     string
	BillingCodeType string
	Description     string
	NegotiatedRate  float64
	ServiceCodes    []string
	BillingClass    string
	NegotiatedType  string
	ExpirationDate  string

	// ProviderInfo is the provider attribution subtree in one of several
	// payer shapes (direct npi/tin scalars, tin objects, nested providers).
	// nil when the price carries no attribution.
	ProviderInfo map[string]any

	// Annotations records non-fatal parse findings, e.g. missing_provider_ref.
	Annotations []string
}

// HasAnnotation reports whether the record carries the given annotation.
func (r *RateRecord) HasAnnotation(name string) bool {
	for _, a := range r.Annotations {
		if a == name {
			return true
		}
	}
	return false
}
