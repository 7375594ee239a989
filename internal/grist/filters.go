package grist

// NormalizeFilter wraps scalar filter values in single-element lists, the
// form the Grist records endpoint expects. Lists pass through unchanged.
func NormalizeFilter(filter map[string]any) map[string][]any {
	if len(filter) == 0 {
		return nil
	}

	out := make(map[string][]any, len(filter))
	for k, v := range filter {
		switch vv := v.(type) {
		case []any:
			out[k] = vv
		default:
			out[k] = []any{v}
		}
	}
	return out
}
