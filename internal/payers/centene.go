package payers

func init() {
	for _, name := range []string{"centene", "centene_fidelis", "fidelis", "centene_ambetter"} {
		Register(name, func() Handler { return CenteneHandler{} })
	}
}

// CenteneHandler covers the Centene family (Fidelis, Ambetter). Centene files
// are close to the CMS schema but carry scalar fields where the schema wants
// lists and string-typed rates.
type CenteneHandler struct {
	Base
}

func (CenteneHandler) AdaptInNetwork(item map[string]any) []map[string]any {
	out := cloneItem(item)

	for _, group := range rateGroups(out) {
		ensureList(group, "provider_references")
		ensureList(group, "provider_groups")
		lowerString(group, "negotiation_arrangement")

		for _, price := range priceEntries(group) {
			coerceRate(price)
			lowerString(price, "negotiated_type")
			ensureList(price, "service_code")
			ensureList(price, "billing_code_modifier")
		}
	}
	lowerString(out, "negotiation_arrangement")

	return []map[string]any{out}
}
