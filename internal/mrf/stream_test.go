package mrf

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/gyeh/tic-rates/internal/payers"
)

func collect(t *testing.T, doc string, opts Options) []RateRecord {
	t.Helper()
	var got []RateRecord
	err := StreamParse(strings.NewReader(doc), opts, func(rec RateRecord) error {
		got = append(got, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamParse: %v", err)
	}
	return got
}

func TestStreamStandardShape(t *testing.T) {
	doc := `{
		"reporting_entity_name": "test",
		"in_network": [{
			"billing_code": "99213",
			"billing_code_type": "CPT",
			"description": "Office visit",
			"negotiated_rates": [{
				"provider_groups": [{"npi": "1234567890", "tin": "12-3456789"}],
				"negotiated_prices": [{
					"negotiated_rate": 125.00,
					"billing_class": "professional",
					"service_code": "11"
				}]
			}]
		}]
	}`

	got := collect(t, doc, Options{Payer: "acme"})
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	rec := got[0]
	if rec.Payer != "acme" || rec.BillingCode != "99213" || rec.BillingCodeType != "CPT" {
		t.Errorf("record = %+v", rec)
	}
	if rec.NegotiatedRate != 125.00 || rec.BillingClass != "professional" {
		t.Errorf("price fields = %+v", rec)
	}
	// scalar service_code promoted to a singleton list
	if !reflect.DeepEqual(rec.ServiceCodes, []string{"11"}) {
		t.Errorf("service codes = %v", rec.ServiceCodes)
	}
	if rec.ProviderInfo["npi"] != "1234567890" {
		t.Errorf("provider info = %v", rec.ProviderInfo)
	}
}

func TestStreamFanOut(t *testing.T) {
	// 1 item x 1 group x 2 prices x 2 provider groups = 4 records
	doc := `{"in_network": [{
		"billing_code": "1",
		"negotiated_rates": [{
			"provider_groups": [{"npi": "1"}, {"npi": "2"}],
			"negotiated_prices": [{"negotiated_rate": 10}, {"negotiated_rate": 20}]
		}]
	}]}`

	got := collect(t, doc, Options{})
	if len(got) != 4 {
		t.Fatalf("got %d records, want 4", len(got))
	}
	// document order: price 10 across both groups, then price 20
	wantRates := []float64{10, 10, 20, 20}
	wantNPIs := []string{"1", "2", "1", "2"}
	for i, rec := range got {
		if rec.NegotiatedRate != wantRates[i] || rec.ProviderInfo["npi"] != wantNPIs[i] {
			t.Errorf("record %d = rate %v npi %v", i, rec.NegotiatedRate, rec.ProviderInfo["npi"])
		}
	}
}

func TestStreamGroupDirectAttributionWins(t *testing.T) {
	// a group carrying direct npi/tin emits one tuple as the group itself,
	// even when a providers list is also present
	doc := `{"in_network": [{
		"billing_code": "1",
		"negotiated_rates": [{
			"provider_groups": [{
				"npi": "1111111111",
				"tin": "11-1111111",
				"providers": [{"npi": "2222222222"}, {"npi": "3333333333"}]
			}],
			"negotiated_prices": [{"negotiated_rate": 10}]
		}]
	}]}`

	got := collect(t, doc, Options{})
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].ProviderInfo["npi"] != "1111111111" {
		t.Errorf("npi = %v, want the group's own", got[0].ProviderInfo["npi"])
	}
}

func TestStreamNestedProvidersFanOut(t *testing.T) {
	// the per-provider path applies only when the group has no direct npi/tin
	doc := `{"in_network": [{
		"billing_code": "1",
		"negotiated_rates": [{
			"provider_groups": [{
				"providers": [{"npi": "2222222222"}, {"npi": "3333333333"}]
			}],
			"negotiated_prices": [{"negotiated_rate": 10}]
		}]
	}]}`

	got := collect(t, doc, Options{})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ProviderInfo["npi"] != "2222222222" || got[1].ProviderInfo["npi"] != "3333333333" {
		t.Errorf("npis = %v, %v", got[0].ProviderInfo["npi"], got[1].ProviderInfo["npi"])
	}
}

func TestStreamInFileReferences(t *testing.T) {
	doc := `{
		"provider_references": [
			{"provider_group_id": 7, "provider_group_name": "North Group",
			 "provider_groups": [{"npi": ["1111111111", "2222222222"], "tin": {"type": "ein", "value": "11-1111111"}}]}
		],
		"in_network": [{
			"billing_code": "99213",
			"negotiated_rates": [{
				"provider_references": [7],
				"negotiated_prices": [{"negotiated_rate": 55}]
			}]
		}]
	}`

	got := collect(t, doc, Options{})
	if len(got) != 1 {
		t.Fatalf("got %d records", len(got))
	}
	info := got[0].ProviderInfo
	if info["provider_group_name"] != "North Group" {
		t.Errorf("info = %v", info)
	}
	npis, _ := info["npi"].([]any)
	if len(npis) != 2 {
		t.Errorf("npi list = %v", info["npi"])
	}
}

func TestStreamUnresolvedReference(t *testing.T) {
	doc := `{"in_network": [{
		"billing_code": "1",
		"negotiated_rates": [{
			"provider_references": [99],
			"negotiated_prices": [{"negotiated_rate": 5}]
		}]
	}]}`

	got := collect(t, doc, Options{})
	if len(got) != 1 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].ProviderInfo != nil {
		t.Errorf("provider info = %v, want nil", got[0].ProviderInfo)
	}
	if !got[0].HasAnnotation("missing_provider_ref") {
		t.Errorf("annotations = %v", got[0].Annotations)
	}
}

func TestStreamNullRateSkippedAndLoggedOnce(t *testing.T) {
	doc := `{"in_network": [
		{"billing_code": "1", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 10}]}]},
		{"billing_code": "2", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": null}, {"negotiated_rate": null}]}]},
		{"billing_code": "3", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 30}]}]}
	]}`

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	got := collect(t, doc, Options{Logger: logger})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].BillingCode != "1" || got[1].BillingCode != "3" {
		t.Errorf("codes = %s, %s", got[0].BillingCode, got[1].BillingCode)
	}
	if n := strings.Count(logBuf.String(), "skipping_price_no_rate"); n != 1 {
		t.Errorf("skip event logged %d times, want 1", n)
	}
}

func TestStreamAllowedAmountsRoot(t *testing.T) {
	doc := `{"allowed_amounts": [{"billing_code": "1"}], "in_network": [{"billing_code": "2"}]}`
	got := collect(t, doc, Options{})
	if len(got) != 0 {
		t.Errorf("allowed-amounts file yielded %d records", len(got))
	}
}

func TestStreamLegacyArrayRoot(t *testing.T) {
	doc := `[
		{"cpt_code": "99213", "negotiated_rate": 42.5, "provider_npi": "1234567890", "provider_tin": "12-3456789", "provider_name": "Acme"},
		{"billing_code": "70450", "rate": 12, "npi": "9999999999"}
	]`

	got := collect(t, doc, Options{Payer: "legacy"})
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].BillingCode != "99213" || got[0].NegotiatedRate != 42.5 {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[0].ProviderInfo["npi"] != "1234567890" || got[0].ProviderInfo["provider_group_name"] != "Acme" {
		t.Errorf("record 0 provider info = %v", got[0].ProviderInfo)
	}
	if got[1].BillingCode != "70450" || got[1].NegotiatedRate != 12 {
		t.Errorf("record 1 = %+v", got[1])
	}
}

func TestStreamWhitelistPrefilter(t *testing.T) {
	doc := `{"in_network": [
		{"billing_code": "99213", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 1}]}]},
		{"billing_code": "70450", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 2}]}]}
	]}`

	var scanned int
	got := collect(t, doc, Options{
		Whitelist:     map[string]struct{}{"99213": {}},
		OnItemScanned: func() { scanned++ },
	})
	if len(got) != 1 || got[0].BillingCode != "99213" {
		t.Errorf("got %+v", got)
	}
	if scanned != 2 {
		t.Errorf("scanned %d items, want 2", scanned)
	}
}

func TestStreamHandlerAdaptation(t *testing.T) {
	// scenario: hybrid group+reference attribution resolved through the table
	doc := `{
		"provider_references": [{"id": 42, "provider_group_name": "Acme Group"}],
		"in_network": [{
			"billing_code": "99213",
			"negotiated_rates": [{
				"provider_groups": [{"npi": "1111111111"}],
				"provider_references": [42],
				"negotiated_prices": [{"negotiated_rate": 80.0, "service_code": "11"}]
			}]
		}]
	}`

	got := collect(t, doc, Options{Payer: "aetna", Handler: payers.Get("aetna")})
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	info := got[0].ProviderInfo
	if info["provider_group_name"] != "Acme Group" {
		t.Errorf("name not merged from reference: %v", info)
	}
	if info["npi"] != float64(1111111111) {
		t.Errorf("npi = %v (%T)", info["npi"], info["npi"])
	}
}

func TestStreamEarlyStop(t *testing.T) {
	doc := `{"in_network": [
		{"billing_code": "1", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 1}]}]},
		{"billing_code": "2", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 2}]}]},
		{"billing_code": "3", "negotiated_rates": [{"negotiated_prices": [{"negotiated_rate": 3}]}]}
	]}`

	var got []RateRecord
	err := StreamParse(strings.NewReader(doc), Options{}, func(rec RateRecord) error {
		got = append(got, rec)
		if len(got) == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ErrStop should return nil, got %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
}

func TestStreamMalformedRoot(t *testing.T) {
	if err := StreamParse(strings.NewReader(`"nope"`), Options{}, func(RateRecord) error { return nil }); err == nil {
		t.Error("expected error for scalar root")
	}
	if err := StreamParse(strings.NewReader(`{"in_network": [{]`), Options{}, func(RateRecord) error { return nil }); err == nil {
		t.Error("expected error for corrupt document")
	}
}

func TestReferenceTablePositionalFallback(t *testing.T) {
	table := NewReferenceTable()
	table.Add(map[string]any{"provider_group_name": "First"}, 0)
	table.Add(map[string]any{"provider_group_id": float64(42), "provider_group_name": "By ID"}, 1)

	if info, ok := table.Lookup(float64(0)); !ok || info["provider_group_name"] != "First" {
		t.Errorf("positional lookup = %v, %v", info, ok)
	}
	if info, ok := table.Lookup("42"); !ok || info["provider_group_name"] != "By ID" {
		t.Errorf("string id lookup = %v, %v", info, ok)
	}
	if info, ok := table.Lookup(float64(42)); !ok || info["provider_group_name"] != "By ID" {
		t.Errorf("numeric id lookup = %v, %v", info, ok)
	}
}
