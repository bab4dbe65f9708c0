package persistence

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// jsonb wraps any value for JSONB column round-trips.
type jsonb struct {
	v any
}

func jsonbOf(v any) jsonb { return jsonb{v: v} }

func (j jsonb) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	return json.Marshal(j.v)
}

// scanJSON decodes a JSONB column value into dst. NULL leaves dst as-is.
func scanJSON(src []byte, dst any) error {
	if len(src) == 0 {
		return nil
	}
	if err := json.Unmarshal(src, dst); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}
