package payers

func init() {
	Register("bcbs_fl", func() Handler { return BCBSFLHandler{} })
}

// BCBSFLHandler covers BCBS Florida. Some of its records omit the
// negotiated_rates array entirely or collapse it to a scalar; those are
// rewritten into a single degenerate rate group built from record-level
// fields. Properly nested records pass through with provider_references kept
// as opaque ids.
type BCBSFLHandler struct {
	Base
}

func (BCBSFLHandler) AdaptInNetwork(item map[string]any) []map[string]any {
	nr, present := item["negotiated_rates"]
	if _, isList := nr.([]any); present && isList {
		return []map[string]any{item}
	}

	out := cloneItem(item)

	price := map[string]any{}
	switch {
	case present:
		// Scalar negotiated_rates is the rate itself.
		price["negotiated_rate"] = nr
	default:
		if rate, ok := out["negotiated_rate"]; ok {
			price["negotiated_rate"] = rate
		}
	}
	for _, key := range []string{"negotiated_type", "billing_class", "service_code", "expiration_date"} {
		if v, ok := out[key]; ok {
			price[key] = v
		}
	}
	coerceRate(price)
	ensureList(price, "service_code")

	out["negotiated_rates"] = []any{
		map[string]any{"negotiated_prices": []any{price}},
	}
	return []map[string]any{out}
}
