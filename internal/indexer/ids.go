package indexer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DocumentID normalizes an id yielded by Index.DocumentIDs to an int64.
// Accepted forms are integer values, integral floats, numeric strings,
// json.Number, a map with an "id" entry and an IDRecord.
func DocumentID(v any) (int64, error) {
	switch id := v.(type) {
	case map[string]any:
		inner, ok := id["id"]
		if !ok {
			return 0, fmt.Errorf("record has no id field")
		}
		return scalarID(inner)
	case IDRecord:
		return scalarID(id.DocumentID())
	default:
		return scalarID(v)
	}
}

func scalarID(v any) (int64, error) {
	switch id := v.(type) {
	case int:
		return int64(id), nil
	case int32:
		return int64(id), nil
	case int64:
		return id, nil
	case uint:
		if uint64(id) > math.MaxInt64 {
			return 0, fmt.Errorf("id %d overflows int64", id)
		}
		return int64(id), nil
	case uint32:
		return int64(id), nil
	case uint64:
		if id > math.MaxInt64 {
			return 0, fmt.Errorf("id %d overflows int64", id)
		}
		return int64(id), nil
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return 0, fmt.Errorf("id %v is not integral", id)
		}
		return int64(id), nil
	case json.Number:
		return id.Int64()
	case string:
		return strconv.ParseInt(id, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
