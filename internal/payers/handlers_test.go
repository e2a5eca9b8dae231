package payers

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decodeItem(t *testing.T, raw string) map[string]any {
	t.Helper()
	var item map[string]any
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return item
}

func firstGroup(t *testing.T, item map[string]any) map[string]any {
	t.Helper()
	groups, ok := item["negotiated_rates"].([]any)
	if !ok || len(groups) == 0 {
		t.Fatalf("no negotiated_rates in %v", item)
	}
	return groups[0].(map[string]any)
}

func firstPrice(t *testing.T, group map[string]any) map[string]any {
	t.Helper()
	prices, ok := group["negotiated_prices"].([]any)
	if !ok || len(prices) == 0 {
		t.Fatalf("no negotiated_prices in %v", group)
	}
	return prices[0].(map[string]any)
}

func TestRegistryLookup(t *testing.T) {
	if _, ok := Get("centene").(CenteneHandler); !ok {
		t.Error("centene not registered")
	}
	if _, ok := Get("CENTENE_FIDELIS").(CenteneHandler); !ok {
		t.Error("lookup should be case-insensitive")
	}
	if _, ok := Get("some_unknown_payer").(Base); !ok {
		t.Error("unknown payer should get the default handler")
	}
}

func TestBaseIsIdentity(t *testing.T) {
	item := decodeItem(t, `{"billing_code": "99213"}`)
	got := Base{}.AdaptInNetwork(item)
	if len(got) != 1 || !reflect.DeepEqual(got[0], item) {
		t.Errorf("got %v", got)
	}
}

func TestCenteneCoercions(t *testing.T) {
	item := decodeItem(t, `{
		"billing_code": "99213",
		"negotiation_arrangement": "FFS",
		"negotiated_rates": [{
			"provider_references": 1,
			"provider_groups": [{"npi": "9999999999", "tin": "987654321"}],
			"negotiated_prices": [{
				"negotiated_rate": "50.0",
				"negotiated_type": "NEGOTIATED",
				"service_code": "11",
				"billing_code_modifier": "26"
			}]
		}]
	}`)

	out := CenteneHandler{}.AdaptInNetwork(item)
	if len(out) != 1 {
		t.Fatalf("expected 1 item, got %d", len(out))
	}
	group := firstGroup(t, out[0])
	price := firstPrice(t, group)

	if rate, ok := price["negotiated_rate"].(float64); !ok || rate != 50.0 {
		t.Errorf("negotiated_rate = %v (%T)", price["negotiated_rate"], price["negotiated_rate"])
	}
	if price["negotiated_type"] != "negotiated" {
		t.Errorf("negotiated_type = %v", price["negotiated_type"])
	}
	if sc, ok := price["service_code"].([]any); !ok || len(sc) != 1 || sc[0] != "11" {
		t.Errorf("service_code = %v", price["service_code"])
	}
	if _, ok := price["billing_code_modifier"].([]any); !ok {
		t.Errorf("billing_code_modifier = %v", price["billing_code_modifier"])
	}
	if _, ok := group["provider_references"].([]any); !ok {
		t.Errorf("provider_references = %v", group["provider_references"])
	}
	if out[0]["negotiation_arrangement"] != "ffs" {
		t.Errorf("negotiation_arrangement = %v", out[0]["negotiation_arrangement"])
	}
}

func TestCenteneDoesNotMutateInput(t *testing.T) {
	item := decodeItem(t, `{
		"negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": "50.0", "service_code": "11"}]}]
	}`)
	CenteneHandler{}.AdaptInNetwork(item)
	price := firstPrice(t, firstGroup(t, item))
	if price["negotiated_rate"] != "50.0" {
		t.Errorf("input mutated: %v", price["negotiated_rate"])
	}
	if _, isList := price["service_code"].([]any); isList {
		t.Error("input service_code mutated into a list")
	}
}

func TestAetnaHybridMerge(t *testing.T) {
	item := decodeItem(t, `{
		"billing_code": "99213",
		"negotiated_rates": [{
			"provider_groups": [{"npi": "1111111111"}],
			"provider_references": [42],
			"negotiated_prices": [{"negotiated_rate": 80.0, "billing_class": "PROFESSIONAL", "service_code": "11"}]
		}]
	}`)

	out := AetnaHandler{}.AdaptInNetwork(item)
	group := firstGroup(t, out[0])

	if _, still := group["provider_references"]; still {
		t.Error("provider_references should be folded onto the groups")
	}
	pg := group["provider_groups"].([]any)[0].(map[string]any)
	if id, ok := pg["provider_reference_id"].(float64); !ok || id != 42 {
		t.Errorf("provider_reference_id = %v", pg["provider_reference_id"])
	}

	// direct NPI lifted into providers[]
	providers, ok := pg["providers"].([]any)
	if !ok || len(providers) != 1 {
		t.Fatalf("providers = %v", pg["providers"])
	}
	if npi := providers[0].(map[string]any)["npi"]; npi != float64(1111111111) {
		t.Errorf("npi = %v (%T)", npi, npi)
	}

	price := firstPrice(t, group)
	if price["billing_class"] != "professional" {
		t.Errorf("billing_class = %v", price["billing_class"])
	}
}

func TestAetnaTINAndStatePlan(t *testing.T) {
	item := decodeItem(t, `{
		"description": "Office visit - Florida HMO",
		"negotiated_rates": [{
			"provider_groups": [{"npi": "2222222222", "tin": "12-3456789"}],
			"negotiated_prices": [{"negotiated_rate": 60.0}]
		}]
	}`)

	out := AetnaHandler{}.AdaptInNetwork(item)
	if out[0]["state_plan"] != "FL" {
		t.Errorf("state_plan = %v", out[0]["state_plan"])
	}
	pg := firstGroup(t, out[0])["provider_groups"].([]any)[0].(map[string]any)
	tin, ok := pg["tin"].(map[string]any)
	if !ok || tin["type"] != "ein" || tin["value"] != "12-3456789" {
		t.Errorf("tin = %v", pg["tin"])
	}
}

func TestHorizonGeography(t *testing.T) {
	item := decodeItem(t, `{
		"negotiated_rates": [{
			"provider_groups": [{"tin": "22-2222222"}],
			"negotiated_prices": [{"negotiated_rate": 45.0, "geographic_region": "NJ_NORTH", "billing_class": "Professional"}]
		}]
	}`)

	out := HorizonHandler{}.AdaptInNetwork(item)
	price := firstPrice(t, firstGroup(t, out[0]))

	if _, still := price["geographic_region"]; still {
		t.Error("geographic_region should be replaced")
	}
	geo, ok := price["service_geography"].(map[string]any)
	if !ok {
		t.Fatalf("service_geography = %v", price["service_geography"])
	}
	if geo["state"] != "NJ" || geo["region"] != "north" || geo["full_code"] != "NJ_NORTH" {
		t.Errorf("geo = %v", geo)
	}
	if price["billing_class"] != "professional" {
		t.Errorf("billing_class = %v", price["billing_class"])
	}
}

func TestHorizonStatewideRegion(t *testing.T) {
	geo := parseRegion("NJ")
	if geo["state"] != "NJ" || geo["region"] != "statewide" {
		t.Errorf("geo = %v", geo)
	}
}

func TestBCBSFLDegenerateRecord(t *testing.T) {
	item := decodeItem(t, `{
		"billing_code": "99214",
		"negotiated_rate": "75.5",
		"negotiated_type": "negotiated",
		"billing_class": "professional",
		"service_code": "11"
	}`)

	out := BCBSFLHandler{}.AdaptInNetwork(item)
	price := firstPrice(t, firstGroup(t, out[0]))

	if rate, ok := price["negotiated_rate"].(float64); !ok || rate != 75.5 {
		t.Errorf("negotiated_rate = %v", price["negotiated_rate"])
	}
	if sc, ok := price["service_code"].([]any); !ok || sc[0] != "11" {
		t.Errorf("service_code = %v", price["service_code"])
	}
}

func TestBCBSFLScalarNegotiatedRates(t *testing.T) {
	item := decodeItem(t, `{"billing_code": "99214", "negotiated_rates": 99.0}`)
	out := BCBSFLHandler{}.AdaptInNetwork(item)
	price := firstPrice(t, firstGroup(t, out[0]))
	if price["negotiated_rate"] != 99.0 {
		t.Errorf("negotiated_rate = %v", price["negotiated_rate"])
	}
}

func TestBCBSFLNestedPassThrough(t *testing.T) {
	item := decodeItem(t, `{
		"negotiated_rates": [{
			"provider_references": [7],
			"negotiated_prices": [{"negotiated_rate": 10.0}]
		}]
	}`)
	out := BCBSFLHandler{}.AdaptInNetwork(item)
	group := firstGroup(t, out[0])
	if refs, ok := group["provider_references"].([]any); !ok || refs[0] != float64(7) {
		t.Errorf("provider_references = %v", group["provider_references"])
	}
}

func TestBCBSILScalarAndNumericRefs(t *testing.T) {
	scalar := decodeItem(t, `{"billing_code": "1", "negotiated_rates": 12.5}`)
	out := BCBSILHandler{}.AdaptInNetwork(scalar)
	if price := firstPrice(t, firstGroup(t, out[0])); price["negotiated_rate"] != 12.5 {
		t.Errorf("negotiated_rate = %v", price["negotiated_rate"])
	}

	refs := decodeItem(t, `{
		"negotiated_rates": [{
			"provider_references": [42, "x7"],
			"negotiated_prices": [{"negotiated_rate": 5.0}]
		}]
	}`)
	out = BCBSILHandler{}.AdaptInNetwork(refs)
	got := firstGroup(t, out[0])["provider_references"].([]any)
	if !reflect.DeepEqual(got, []any{"42", "x7"}) {
		t.Errorf("provider_references = %v", got)
	}
}
