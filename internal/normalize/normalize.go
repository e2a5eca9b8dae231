// Package normalize turns raw parser tuples into canonical rate rows:
// whitelist filtering, rate bounds, field canonicalization, and provider
// info extraction across the shapes payers publish.
package normalize

import (
	"fmt"
	"strconv"

	"github.com/gyeh/tic-rates/internal/mrf"
)

// Rate is a canonical rate row ready for identity and quality stamping.
type Rate struct {
	Payer           string
	ServiceCode     string // billing code
	BillingCodeType string
	Description     string

	NegotiatedRate float64
	// FormattedRate is the two-decimal rendering used for identity.
	FormattedRate string

	ServiceCodes   []string
	BillingClass   string
	NegotiatedType string
	ExpirationDate string

	// ProviderNPIs is deduplicated, order-preserving.
	ProviderNPIs []string
	ProviderTIN  string
	ProviderName string

	Annotations []string
}

// Normalize applies the whitelist and rate bounds to one raw tuple and
// canonicalizes its fields. The second return is false when the tuple is
// dropped. Rates above the plausible ceiling are kept; the quality validator
// flags them.
func Normalize(rec mrf.RateRecord, whitelist map[string]struct{}) (Rate, bool) {
	if len(whitelist) > 0 {
		if _, ok := whitelist[rec.BillingCode]; !ok {
			return Rate{}, false
		}
	}
	if rec.NegotiatedRate <= 0 {
		return Rate{}, false
	}

	row := Rate{
		Payer:           rec.Payer,
		ServiceCode:     rec.BillingCode,
		BillingCodeType: rec.BillingCodeType,
		Description:     rec.Description,
		NegotiatedRate:  rec.NegotiatedRate,
		FormattedRate:   fmt.Sprintf("%.2f", rec.NegotiatedRate),
		ServiceCodes:    rec.ServiceCodes,
		BillingClass:    rec.BillingClass,
		NegotiatedType:  rec.NegotiatedType,
		ExpirationDate:  rec.ExpirationDate,
		Annotations:     rec.Annotations,
	}
	row.ProviderNPIs, row.ProviderTIN, row.ProviderName = extractProviders(rec.ProviderInfo)
	return row, true
}

// extractProviders pulls NPIs, TIN, and organization name out of a provider
// info subtree. Accepts direct scalars, tin objects with a value field, and
// nested providers lists.
func extractProviders(info map[string]any) (npis []string, tin, name string) {
	if info == nil {
		return nil, "", ""
	}

	seen := make(map[string]struct{})
	add := func(v any) {
		for _, s := range npiStrings(v) {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			npis = append(npis, s)
		}
	}

	add(info["npi"])
	if providers, ok := info["providers"].([]any); ok {
		for _, pv := range providers {
			p, ok := pv.(map[string]any)
			if !ok {
				continue
			}
			add(p["npi"])
			if tin == "" {
				tin = tinString(p["tin"])
			}
		}
	}
	if t := tinString(info["tin"]); t != "" {
		tin = t
	}
	if n, ok := info["provider_group_name"].(string); ok {
		name = n
	}
	return npis, tin, name
}

// tinString accepts a bare string TIN or the standard {type, value} object.
func tinString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["value"].(string); ok {
			return s
		}
		if f, ok := t["value"].(float64); ok {
			return formatNumeric(f)
		}
	}
	return ""
}

// npiStrings renders one NPI value, or a list of them, as strings.
func npiStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, npiStrings(e)...)
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case float64:
		return []string{formatNumeric(t)}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func formatNumeric(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
