package mrf

import (
	"bytes"

	simdjson "github.com/minio/simdjson-go"
)

var useSimd = simdjson.SupportedCPU()

// codeFilter skips raw in_network elements whose billing code cannot be in
// the whitelist, before any full decode. A byte-substring scan rejects the
// bulk; simdjson verifies the billing_code field on surviving candidates.
// False positives fall through to the normalizer's exact check.
type codeFilter struct {
	whitelist map[string]struct{}
	patterns  [][]byte
	pj        *simdjson.ParsedJson // reused across Parse calls
}

// newCodeFilter returns nil when the whitelist is empty, meaning all codes
// are allowed.
func newCodeFilter(whitelist map[string]struct{}) *codeFilter {
	if len(whitelist) == 0 {
		return nil
	}
	patterns := make([][]byte, 0, len(whitelist))
	for code := range whitelist {
		patterns = append(patterns, []byte(`"`+code+`"`))
	}
	return &codeFilter{whitelist: whitelist, patterns: patterns}
}

// match reports whether raw might carry a whitelisted billing code.
func (f *codeFilter) match(raw []byte) bool {
	if f == nil {
		return true
	}
	if !lineContainsAny(raw, f.patterns) {
		return false
	}
	if !useSimd {
		return true
	}

	pj, err := simdjson.Parse(raw, f.pj)
	if err != nil {
		return true // malformed here is the decoder's problem, not ours
	}
	f.pj = pj

	matched := true
	pj.ForEach(func(i simdjson.Iter) error {
		elem, err := i.FindElement(nil, "billing_code")
		if err != nil {
			return nil
		}
		code, err := elem.Iter.StringCvt()
		if err != nil {
			return nil
		}
		_, matched = f.whitelist[code]
		return nil
	})
	return matched
}

func lineContainsAny(line []byte, patterns [][]byte) bool {
	for _, p := range patterns {
		if bytes.Contains(line, p) {
			return true
		}
	}
	return false
}
