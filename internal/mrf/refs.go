package mrf

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gyeh/tic-rates/internal/fetch"
)

// ReferenceTable maps provider reference ids to flattened provider info.
// Reference tables are small relative to in_network and may be held in full.
type ReferenceTable struct {
	byID map[string]map[string]any
}

// NewReferenceTable returns an empty table.
func NewReferenceTable() *ReferenceTable {
	return &ReferenceTable{byID: make(map[string]map[string]any)}
}

// Len returns the number of resolvable reference ids.
func (t *ReferenceTable) Len() int { return len(t.byID) }

// Add flattens and stores a raw reference entry. When the entry carries no
// provider_group_id the supplied fallback position is used as the id, which
// matches payers that expect positional resolution.
func (t *ReferenceTable) Add(entry map[string]any, position int) {
	id, ok := entry["provider_group_id"]
	if !ok {
		id = entry["id"]
	}
	key := asString(id)
	if key == "" {
		key = asString(position)
	}
	t.byID[key] = flattenReference(entry)
}

// Lookup resolves a reference id of any JSON scalar type. BCBS-IL stores
// bare numeric ids as strings; both forms hit the same key.
func (t *ReferenceTable) Lookup(id any) (map[string]any, bool) {
	info, ok := t.byID[asString(id)]
	return info, ok
}

// flattenReference reduces a reference entry to the provider-info shape the
// normalizer understands: npi (scalar or list), tin, provider_group_name.
// Entries carrying provider_groups are folded into a combined NPI list with
// the first group's TIN.
func flattenReference(entry map[string]any) map[string]any {
	info := make(map[string]any, 3)

	if name, ok := entry["provider_group_name"]; ok {
		info["provider_group_name"] = name
	}
	if npi, ok := entry["npi"]; ok {
		info["npi"] = npi
	}
	if tin, ok := entry["tin"]; ok {
		info["tin"] = tin
	}

	groups, _ := entry["provider_groups"].([]any)
	if len(groups) == 0 {
		return info
	}

	var npis []any
	for _, g := range groups {
		gm, ok := g.(map[string]any)
		if !ok {
			continue
		}
		switch npi := gm["npi"].(type) {
		case []any:
			npis = append(npis, npi...)
		case nil:
		default:
			npis = append(npis, npi)
		}
		if _, have := info["tin"]; !have {
			if tin, ok := gm["tin"]; ok {
				info["tin"] = tin
			}
		}
	}
	if len(npis) > 0 {
		info["npi"] = npis
	}
	return info
}

// LoadProviderReferences fetches an external provider reference file and
// builds a lookup table from its top-level provider_references array. A
// missing or malformed file yields an empty table; resolution failures then
// surface per-price as missing_provider_ref annotations.
func LoadProviderReferences(ctx context.Context, client *fetch.Client, url string) (*ReferenceTable, error) {
	table := NewReferenceTable()
	if url == "" {
		return table, nil
	}

	data, err := client.Get(ctx, url)
	if err != nil {
		return table, fmt.Errorf("fetching provider references: %w", err)
	}

	var doc struct {
		ProviderReferences []map[string]any `json:"provider_references"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return table, fmt.Errorf("decoding provider references: %w", err)
	}

	for i, entry := range doc.ProviderReferences {
		table.Add(entry, i)
	}
	return table, nil
}
