package cache

import (
	"encoding/json"
)

// fallbackSize is charged for values that cannot be serialized, such as
// cyclic structures, channels and funcs.
const fallbackSize = 1024

// EstimateSize approximates the memory footprint of v. Strings are charged two
// bytes per character and fixed-width primitives eight bytes; everything else
// is charged its JSON encoding length.
func EstimateSize(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return int64(2 * len(val))
	case []byte:
		return int64(len(val))
	case bool:
		return 4
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return 8
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fallbackSize
	}
	return int64(len(data))
}
