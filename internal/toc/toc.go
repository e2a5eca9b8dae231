// Package toc resolves payer index (Table of Contents) files into a uniform
// list of MRF descriptors. It enumerates only; it never follows the
// referenced files.
package toc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gyeh/tic-rates/internal/fetch"
)

// ErrUnknownIndexShape is returned when an index carries none of the three
// recognized top-level keys.
var ErrUnknownIndexShape = errors.New("index has no reporting_structure, blobs, or in_network_files key")

// Kind classifies a discovered MRF file.
type Kind string

const (
	KindInNetworkRates    Kind = "in_network_rates"
	KindAllowedAmounts    Kind = "allowed_amounts"
	KindProviderReference Kind = "provider_reference"
	KindUnknown           Kind = "unknown"
)

// Descriptor is one discovered MRF file. It lives only for the duration of a
// pipeline run.
type Descriptor struct {
	URL                  string
	Kind                 Kind
	PlanName             string
	PlanID               string
	PlanMarketType       string
	Description          string
	ProviderReferenceURL string
}

// FetchAndResolve downloads an index and resolves it into descriptors.
func FetchAndResolve(ctx context.Context, client *fetch.Client, indexURL string) ([]Descriptor, error) {
	body, err := client.OpenStream(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetching index: %w", err)
	}
	defer body.Close()

	return Resolve(body)
}

// Resolve streams an index document and returns descriptors in source order.
// Three shapes are recognized by top-level key: reporting_structure (standard
// ToC), blobs (legacy), and in_network_files (direct file list).
func Resolve(r io.Reader) ([]Descriptor, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading opening token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected '{', got %v", tok)
	}

	var descriptors []Descriptor
	matched := false

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", tok)
		}

		switch key {
		case "reporting_structure":
			matched = true
			descriptors, err = streamStructures(dec, descriptors)
			if err != nil {
				return nil, fmt.Errorf("streaming reporting_structure: %w", err)
			}

		case "blobs":
			matched = true
			descriptors, err = streamBlobs(dec, descriptors)
			if err != nil {
				return nil, fmt.Errorf("streaming blobs: %w", err)
			}

		case "in_network_files":
			matched = true
			descriptors, err = streamDirectFiles(dec, descriptors)
			if err != nil {
				return nil, fmt.Errorf("streaming in_network_files: %w", err)
			}

		default:
			if err := skipValue(dec); err != nil {
				return nil, fmt.Errorf("skipping key %q: %w", key, err)
			}
		}
	}

	if _, err = dec.Token(); err != nil {
		return nil, fmt.Errorf("reading closing token: %w", err)
	}

	if !matched {
		return nil, ErrUnknownIndexShape
	}
	return descriptors, nil
}

// fileRef is a file entry inside a reporting structure.
type fileRef struct {
	Description string `json:"description"`
	Location    string `json:"location"`
}

// reportingStructure is one element of the standard ToC array. Some payers
// put plan metadata at the structure level, others only inside
// reporting_plans; both are read, structure-level winning.
type reportingStructure struct {
	PlanName       string `json:"plan_name"`
	PlanID         string `json:"plan_id"`
	PlanMarketType string `json:"plan_market_type"`
	ReportingPlans []struct {
		PlanName       string `json:"plan_name"`
		PlanID         string `json:"plan_id"`
		PlanMarketType string `json:"plan_market_type"`
	} `json:"reporting_plans"`
	InNetworkFiles     []fileRef `json:"in_network_files"`
	AllowedAmountFile  *fileRef  `json:"allowed_amount_file"`
	ProviderReferences []fileRef `json:"provider_references"`
}

func streamStructures(dec *json.Decoder, out []Descriptor) ([]Descriptor, error) {
	if err := expectArrayStart(dec); err != nil {
		return out, err
	}

	for i := 0; dec.More(); i++ {
		var entry reportingStructure
		if err := dec.Decode(&entry); err != nil {
			return out, fmt.Errorf("decoding structure %d: %w", i, err)
		}

		planName, planID, marketType := entry.PlanName, entry.PlanID, entry.PlanMarketType
		if len(entry.ReportingPlans) > 0 {
			first := entry.ReportingPlans[0]
			if planName == "" {
				planName = first.PlanName
			}
			if planID == "" {
				planID = first.PlanID
			}
			if marketType == "" {
				marketType = first.PlanMarketType
			}
		}
		if planName == "" {
			planName = fmt.Sprintf("plan_%d", i)
		}

		// First provider reference location applies to every in-network
		// file of this structure.
		var refURL string
		for _, ref := range entry.ProviderReferences {
			if ref.Location != "" {
				refURL = ref.Location
				break
			}
		}

		for _, f := range entry.InNetworkFiles {
			if f.Location == "" {
				continue
			}
			out = append(out, Descriptor{
				URL:                  f.Location,
				Kind:                 KindInNetworkRates,
				PlanName:             planName,
				PlanID:               planID,
				PlanMarketType:       marketType,
				Description:          f.Description,
				ProviderReferenceURL: refURL,
			})
		}

		if entry.AllowedAmountFile != nil && entry.AllowedAmountFile.Location != "" {
			out = append(out, Descriptor{
				URL:            entry.AllowedAmountFile.Location,
				Kind:           KindAllowedAmounts,
				PlanName:       planName,
				PlanID:         planID,
				PlanMarketType: marketType,
				Description:    entry.AllowedAmountFile.Description,
			})
		}
	}

	return out, expectArrayEnd(dec)
}

func streamBlobs(dec *json.Decoder, out []Descriptor) ([]Descriptor, error) {
	if err := expectArrayStart(dec); err != nil {
		return out, err
	}

	for i := 0; dec.More(); i++ {
		var blob struct {
			URL         string `json:"url"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := dec.Decode(&blob); err != nil {
			return out, fmt.Errorf("decoding blob %d: %w", i, err)
		}
		if blob.URL == "" {
			continue
		}
		name := blob.Name
		if name == "" {
			name = fmt.Sprintf("blob_%d", i)
		}
		// Legacy blobs carry no kind information; downstream decides
		// whether to attempt rate parsing.
		out = append(out, Descriptor{
			URL:         blob.URL,
			Kind:        KindUnknown,
			PlanName:    name,
			Description: blob.Description,
		})
	}

	return out, expectArrayEnd(dec)
}

func streamDirectFiles(dec *json.Decoder, out []Descriptor) ([]Descriptor, error) {
	if err := expectArrayStart(dec); err != nil {
		return out, err
	}

	for i := 0; dec.More(); i++ {
		var f fileRef
		if err := dec.Decode(&f); err != nil {
			return out, fmt.Errorf("decoding file %d: %w", i, err)
		}
		if f.Location == "" {
			continue
		}
		name := f.Description
		if name == "" {
			name = fmt.Sprintf("file_%d", i)
		}
		out = append(out, Descriptor{
			URL:         f.Location,
			Kind:        KindInNetworkRates,
			PlanName:    name,
			Description: f.Description,
		})
	}

	return out, expectArrayEnd(dec)
}

func expectArrayStart(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading array start: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("expected '[', got %v", tok)
	}
	return nil
}

func expectArrayEnd(dec *json.Decoder) error {
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading array end: %w", err)
	}
	return nil
}

// skipValue reads and discards the next JSON value from the decoder.
// Handles objects, arrays, and primitive values.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return err
				}
				if err := skipValue(dec); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
		case '[':
			for dec.More() {
				if err := skipValue(dec); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
		}
	default:
		// Primitive value — already consumed.
	}
	return nil
}

// PlanSafeName replaces every character outside [A-Za-z0-9-_] with '_' so a
// plan name can be embedded in an artifact filename.
func PlanSafeName(plan string) string {
	var b strings.Builder
	b.Grow(len(plan))
	for _, c := range plan {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
