package urlstate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
)

// Flatten turns query values into the JSON form used by the browser, where a
// key with one value is a plain string and a key with more is an array.
func Flatten(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vals := range q {
		switch len(vals) {
		case 0:
		case 1:
			out[k] = vals[0]
		default:
			out[k] = slices.Clone(vals)
		}
	}
	return out
}

// Unflatten accepts either form for every key, so a single subtype or layer
// decodes the same whether it arrived as "a" or ["a"].
func Unflatten(m map[string]any) (url.Values, error) {
	q := make(url.Values, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
		case []string:
			q[k] = slices.Clone(t)
		case []any:
			for i, e := range t {
				s, err := scalar(e)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", k, i, err)
				}
				q.Add(k, s)
			}
		default:
			s, err := scalar(t)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			q.Set(k, s)
		}
	}
	return q, nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
