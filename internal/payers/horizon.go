package payers

import "strings"

func init() {
	for _, name := range []string{"horizon", "horizon_bcbs", "horizon_healthcare"} {
		Register(name, func() Handler { return HorizonHandler{} })
	}
}

// HorizonHandler covers Horizon BCBS, whose prices carry geographic region
// codes of the form STATE_AREA (NJ_NORTH, NY_METRO) and whose TINs arrive as
// bare strings.
type HorizonHandler struct {
	Base
}

func (HorizonHandler) AdaptInNetwork(item map[string]any) []map[string]any {
	out := cloneItem(item)

	for _, group := range rateGroups(out) {
		for _, price := range priceEntries(group) {
			if region, ok := price["geographic_region"].(string); ok {
				delete(price, "geographic_region")
				price["service_geography"] = parseRegion(region)
			}
			lowerString(price, "billing_class")
		}

		for _, pg := range providerGroups(group) {
			coerceTIN(pg)
			if providers, ok := pg["providers"].([]any); ok {
				for _, p := range providers {
					if pm, ok := p.(map[string]any); ok {
						coerceNPI(pm)
					}
				}
			}
		}
	}

	return []map[string]any{out}
}

func parseRegion(region string) map[string]any {
	if state, area, found := strings.Cut(region, "_"); found {
		return map[string]any{
			"state":     state,
			"region":    strings.ToLower(area),
			"full_code": region,
		}
	}
	return map[string]any{
		"state":     region,
		"region":    "statewide",
		"full_code": region,
	}
}
