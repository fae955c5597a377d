package jsonx

import (
	"fmt"

	"github.com/goccy/go-json"
)

// RenderParams renders statement parameters as a JSON array for log output.
// Values json cannot encode fall back to their fmt representation.
func RenderParams(params []any) string {
	if len(params) == 0 {
		return ""
	}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}

	return string(data)
}
