package mrf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gyeh/tic-rates/internal/payers"
)

// ErrStop signals StreamParse to stop cleanly. Emit callbacks return it to
// terminate early, e.g. after a per-file record cap.
var ErrStop = errors.New("stop streaming")

// Options configures one StreamParse pass over an MRF file.
type Options struct {
	// Payer stamps every emitted record.
	Payer string

	// Handler pre-normalizes each in-network item. Required.
	Handler payers.Handler

	// References resolves provider reference ids. In-file provider_references
	// sections are added to this table as they are encountered; an external
	// table loaded via LoadProviderReferences may be passed in pre-filled.
	// Nil means an empty table.
	References *ReferenceTable

	// Whitelist restricts emission to these billing codes. Empty allows all.
	Whitelist map[string]struct{}

	Logger *slog.Logger

	// OnItemScanned is called once per in-network item before filtering.
	OnItemScanned func()
}

// StreamParse walks one MRF file token by token, holding at most one
// in-network item in memory at a time, and calls emit for every flattened
// (item, rate group, price, provider) tuple. Files whose root is a legacy
// bare array of pre-flattened records are handled too. Returns nil when emit
// returns ErrStop.
func StreamParse(r io.Reader, opts Options, emit func(RateRecord) error) error {
	if opts.Handler == nil {
		opts.Handler = payers.Base{}
	}
	if opts.References == nil {
		opts.References = NewReferenceTable()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	p := &parser{
		opts:   opts,
		filter: newCodeFilter(opts.Whitelist),
		emit:   emit,
	}

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading root token: %w", err)
	}

	var perr error
	switch tok {
	case json.Delim('{'):
		perr = p.parseObject(dec)
	case json.Delim('['):
		perr = p.parseLegacyArray(dec)
	default:
		return fmt.Errorf("unexpected root token %v", tok)
	}
	if errors.Is(perr, ErrStop) {
		return nil
	}
	return perr
}

type parser struct {
	opts   Options
	filter *codeFilter
	emit   func(RateRecord) error

	sawInNetwork  bool
	loggedNoRate  bool
	loggedOrdered bool
}

// parseObject walks the top-level keys of a schema-conforming MRF object.
// Unknown sections are skipped without buffering.
func (p *parser) parseObject(dec *json.Decoder) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading object key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}

		switch key {
		case "provider_references":
			if p.sawInNetwork && !p.loggedOrdered {
				p.loggedOrdered = true
				p.opts.Logger.Warn("provider_references follows in_network, earlier references unresolved",
					"payer", p.opts.Payer)
			}
			if err := p.loadReferences(dec); err != nil {
				return err
			}
		case "in_network":
			p.sawInNetwork = true
			if err := p.parseInNetwork(dec); err != nil {
				return err
			}
		case "allowed_amounts", "out_of_network":
			// allowed-amount files carry no negotiated rates
			return nil
		default:
			if err := skipValue(dec); err != nil {
				return fmt.Errorf("skipping %q: %w", key, err)
			}
		}
	}
	return nil
}

// loadReferences streams the in-file provider_references array into the
// reference table, one entry at a time.
func (p *parser) loadReferences(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading provider_references: %w", err)
	}
	if tok != json.Delim('[') {
		return skipRestOfValue(dec, tok)
	}

	pos := 0
	for dec.More() {
		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("decoding provider reference %d: %w", pos, err)
		}
		p.opts.References.Add(entry, pos)
		pos++
	}
	_, err = dec.Token() // closing ]
	return err
}

// parseInNetwork streams the in_network array. Each element is decoded to a
// RawMessage, screened against the code filter, then fully unmarshalled and
// handed to the payer handler.
func (p *parser) parseInNetwork(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading in_network: %w", err)
	}
	if tok != json.Delim('[') {
		return fmt.Errorf("in_network is not an array, got %v", tok)
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("reading in_network element: %w", err)
		}
		if p.opts.OnItemScanned != nil {
			p.opts.OnItemScanned()
		}
		if !p.filter.match(raw) {
			continue
		}

		var item map[string]any
		if err := json.Unmarshal(raw, &item); err != nil {
			return fmt.Errorf("decoding in_network element: %w", err)
		}
		for _, adapted := range p.opts.Handler.AdaptInNetwork(item) {
			if err := p.emitItem(adapted); err != nil {
				return err
			}
		}
	}
	_, err = dec.Token() // closing ]
	return err
}

// emitItem flattens one adapted in-network item into records: one per
// (rate group × price × provider attribution).
func (p *parser) emitItem(item map[string]any) error {
	base := RateRecord{
		Payer:           p.opts.Payer,
		BillingCode:     asString(item["billing_code"]),
		BillingCodeType: asString(item["billing_code_type"]),
		Description:     asString(item["description"]),
	}

	groups, _ := item["negotiated_rates"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		prices, _ := group["negotiated_prices"].([]any)
		for _, pr := range prices {
			price, ok := pr.(map[string]any)
			if !ok {
				continue
			}
			rate, ok := toFloat(price["negotiated_rate"])
			if !ok {
				if !p.loggedNoRate {
					p.loggedNoRate = true
					p.opts.Logger.Info("skipping_price_no_rate",
						"payer", p.opts.Payer, "billing_code", base.BillingCode)
				}
				continue
			}

			rec := base
			rec.NegotiatedRate = rate
			rec.ServiceCodes = toStringList(price["service_code"])
			rec.BillingClass = asString(price["billing_class"])
			rec.NegotiatedType = asString(price["negotiated_type"])
			rec.ExpirationDate = asString(price["expiration_date"])

			if err := p.emitWithProviders(rec, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitWithProviders fans one priced record out across the group's provider
// attribution, preferring reference ids, then embedded provider_groups, then
// a single unattributed record.
func (p *parser) emitWithProviders(rec RateRecord, group map[string]any) error {
	if refs, _ := group["provider_references"].([]any); len(refs) > 0 {
		for _, id := range refs {
			out := rec
			if info, ok := p.opts.References.Lookup(id); ok {
				out.ProviderInfo = info
			} else {
				out.Annotations = append(out.Annotations, "missing_provider_ref")
			}
			if err := p.emit(out); err != nil {
				return err
			}
		}
		return nil
	}

	pgs, _ := group["provider_groups"].([]any)
	if len(pgs) == 0 {
		return p.emit(rec)
	}

	for _, g := range pgs {
		pg, ok := g.(map[string]any)
		if !ok {
			continue
		}
		// A group carrying direct npi/tin is itself the attribution; the
		// per-provider fan-out applies only when it carries neither.
		_, hasNPI := pg["npi"]
		_, hasTIN := pg["tin"]
		providers, _ := pg["providers"].([]any)
		if hasNPI || hasTIN || len(providers) == 0 {
			out := rec
			out.ProviderInfo = p.resolveGroup(pg, nil)
			if err := p.emit(out); err != nil {
				return err
			}
			continue
		}
		for _, pv := range providers {
			provider, ok := pv.(map[string]any)
			if !ok {
				continue
			}
			out := rec
			out.ProviderInfo = p.resolveGroup(pg, provider)
			if err := p.emit(out); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveGroup builds the provider info for one group-level attribution,
// overlaying a nested provider when present and filling gaps from the
// reference table when the group carries a provider_reference_id.
func (p *parser) resolveGroup(pg, provider map[string]any) map[string]any {
	info := make(map[string]any, 4)
	for _, key := range []string{"npi", "tin", "provider_group_name", "service_geography"} {
		if v, ok := pg[key]; ok {
			info[key] = v
		}
	}
	for k, v := range provider {
		info[k] = v
	}
	if refID, ok := pg["provider_reference_id"]; ok {
		if ref, found := p.opts.References.Lookup(refID); found {
			for k, v := range ref {
				if _, have := info[k]; !have {
					info[k] = v
				}
			}
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

// parseLegacyArray handles files whose root is a bare array of already
// flattened rate objects, a shape some payers published before the schema
// settled.
func (p *parser) parseLegacyArray(dec *json.Decoder) error {
	for dec.More() {
		var item map[string]any
		if err := dec.Decode(&item); err != nil {
			return fmt.Errorf("decoding legacy array element: %w", err)
		}
		if p.opts.OnItemScanned != nil {
			p.opts.OnItemScanned()
		}
		if err := p.emitLegacy(item); err != nil {
			return err
		}
	}
	_, err := dec.Token() // closing ]
	return err
}

func (p *parser) emitLegacy(item map[string]any) error {
	code := asString(item["billing_code"])
	if code == "" {
		code = asString(item["cpt_code"])
	}
	rate, ok := toFloat(item["negotiated_rate"])
	if !ok {
		rate, ok = toFloat(item["rate"])
	}
	if !ok {
		if !p.loggedNoRate {
			p.loggedNoRate = true
			p.opts.Logger.Info("skipping_price_no_rate",
				"payer", p.opts.Payer, "billing_code", code)
		}
		return nil
	}

	info := make(map[string]any, 3)
	for _, k := range []string{"npi", "provider_npi"} {
		if v, ok := item[k]; ok {
			info["npi"] = v
			break
		}
	}
	for _, k := range []string{"tin", "provider_tin"} {
		if v, ok := item[k]; ok {
			info["tin"] = v
			break
		}
	}
	if v, ok := item["provider_name"]; ok {
		info["provider_group_name"] = v
	}
	if len(info) == 0 {
		info = nil
	}

	return p.emit(RateRecord{
		Payer:           p.opts.Payer,
		BillingCode:     code,
		BillingCodeType: asString(item["billing_code_type"]),
		Description:     asString(item["description"]),
		NegotiatedRate:  rate,
		ServiceCodes:    toStringList(item["service_code"]),
		BillingClass:    asString(item["billing_class"]),
		NegotiatedType:  asString(item["negotiated_type"]),
		ExpirationDate:  asString(item["expiration_date"]),
		ProviderInfo:    info,
	})
}

// skipValue consumes and discards the next complete JSON value.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	return skipRestOfValue(dec, tok)
}

// skipRestOfValue discards the remainder of a value whose first token has
// already been read.
func skipRestOfValue(dec *json.Decoder, tok json.Token) error {
	switch tok {
	case json.Delim('['), json.Delim('{'):
		depth := 1
		for depth > 0 {
			t, err := dec.Token()
			if err != nil {
				return err
			}
			switch t {
			case json.Delim('['), json.Delim('{'):
				depth++
			case json.Delim(']'), json.Delim('}'):
				depth--
			}
		}
	}
	return nil
}
