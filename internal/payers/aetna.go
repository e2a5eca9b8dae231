package payers

import "strings"

func init() {
	for _, name := range []string{"aetna", "aetna_florida", "aetna_health_inc"} {
		Register(name, func() Handler { return AetnaHandler{} })
	}
}

// AetnaHandler covers Aetna's hybrid provider attribution: rate groups can
// carry both embedded provider_groups and parallel provider_references. The
// reference ids are folded onto the embedded groups by positional alignment
// so the parser resolves names from the reference table while keeping the
// embedded NPIs.
type AetnaHandler struct {
	Base
}

func (AetnaHandler) AdaptInNetwork(item map[string]any) []map[string]any {
	out := cloneItem(item)

	for _, group := range rateGroups(out) {
		pgs := providerGroups(group)
		refs, _ := group["provider_references"].([]any)

		if len(pgs) > 0 && len(refs) > 0 {
			for i, pg := range pgs {
				if i < len(refs) {
					pg["provider_reference_id"] = refs[i]
				}
			}
			// Attribution now lives on the groups; dropping the id list
			// keeps the parser on the embedded-group path.
			delete(group, "provider_references")
		}

		for _, pg := range pgs {
			adaptAetnaProviderGroup(pg)
		}

		for _, price := range priceEntries(group) {
			lowerString(price, "billing_class")
			ensureList(price, "service_code")
		}
	}

	if desc, ok := out["description"].(string); ok && strings.Contains(strings.ToLower(desc), "florida") {
		out["state_plan"] = "FL"
	}

	return []map[string]any{out}
}

func adaptAetnaProviderGroup(pg map[string]any) {
	coerceTIN(pg)
	coerceNPI(pg)

	// Lift a direct NPI into the providers array form.
	if _, hasProviders := pg["providers"]; !hasProviders {
		if npi, hasNPI := pg["npi"]; hasNPI {
			provider := map[string]any{"npi": npi}
			if name, ok := pg["provider_name"]; ok {
				provider["provider_name"] = name
			}
			pg["providers"] = []any{provider}
		}
	}

	if providers, ok := pg["providers"].([]any); ok {
		for _, p := range providers {
			if pm, ok := p.(map[string]any); ok {
				coerceNPI(pm)
			}
		}
	}
}
