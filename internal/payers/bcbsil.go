package payers

import (
	"fmt"
	"strconv"
)

func init() {
	Register("bcbs_il", func() Handler { return BCBSILHandler{} })
}

// BCBSILHandler covers BCBS Illinois: provider_references may arrive as bare
// numeric ids (kept, stored as strings) and negotiated_rates may collapse to
// a scalar direct rate.
type BCBSILHandler struct {
	Base
}

func (BCBSILHandler) AdaptInNetwork(item map[string]any) []map[string]any {
	out := cloneItem(item)

	if nr, ok := out["negotiated_rates"]; ok {
		if _, isList := nr.([]any); !isList {
			price := map[string]any{"negotiated_rate": nr}
			coerceRate(price)
			out["negotiated_rates"] = []any{
				map[string]any{"negotiated_prices": []any{price}},
			}
			return []map[string]any{out}
		}
	}

	for _, group := range rateGroups(out) {
		ensureList(group, "provider_references")
		if refs, ok := group["provider_references"].([]any); ok {
			for i, ref := range refs {
				switch v := ref.(type) {
				case float64:
					refs[i] = strconv.FormatInt(int64(v), 10)
				case int:
					refs[i] = strconv.Itoa(v)
				case string:
					// already canonical
				default:
					refs[i] = fmt.Sprint(v)
				}
			}
		}
	}

	return []map[string]any{out}
}
