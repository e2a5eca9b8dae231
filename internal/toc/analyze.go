package toc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gyeh/tic-rates/internal/fetch"
)

// Analysis summarizes an index document for the analyze subcommand.
type Analysis struct {
	Shape       string       `json:"shape"`
	FileCount   int          `json:"file_count"`
	KindCounts  map[Kind]int `json:"kind_counts"`
	SamplePlans []string     `json:"sample_plans"`
	SampleURLs  []string     `json:"sample_urls"`
}

const sampleSize = 5

// Analyze fetches an index and reports its shape and contents. Diagnostic
// only; the full document is buffered.
func Analyze(ctx context.Context, client *fetch.Client, indexURL string) (*Analysis, error) {
	data, err := client.Get(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetching index: %w", err)
	}

	shape, err := probeShape(data)
	if err != nil {
		return nil, err
	}
	descriptors, err := Resolve(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Shape:      shape,
		FileCount:  len(descriptors),
		KindCounts: make(map[Kind]int),
	}
	seenPlans := make(map[string]struct{})
	for _, d := range descriptors {
		a.KindCounts[d.Kind]++
		if _, dup := seenPlans[d.PlanName]; !dup && len(a.SamplePlans) < sampleSize {
			seenPlans[d.PlanName] = struct{}{}
			a.SamplePlans = append(a.SamplePlans, d.PlanName)
		}
		if len(a.SampleURLs) < sampleSize {
			a.SampleURLs = append(a.SampleURLs, d.URL)
		}
	}
	return a, nil
}

// probeShape reads top-level keys until one of the magic keys appears.
func probeShape(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("reading opening token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", fmt.Errorf("expected '{', got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		key, _ := tok.(string)
		switch key {
		case "reporting_structure", "blobs", "in_network_files":
			return key, nil
		}
		if err := skipValue(dec); err != nil {
			return "", fmt.Errorf("skipping key %q: %w", key, err)
		}
	}
	return "", ErrUnknownIndexShape
}
