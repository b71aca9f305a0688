package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MetadataPayload is the open-ended metadata recorded alongside a version
// (stars, fork/archive flags, ...). Stored as a JSONB column.
type MetadataPayload map[string]any

// Value implements driver.Valuer for JSONB storage.
func (p MetadataPayload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *MetadataPayload) Scan(src any) error {
	return scanJSON(src, p)
}

// ResultsPayload maps one named result bucket (one tool output file) to its
// rows, each row a string-keyed record. Stored as a JSONB column.
type ResultsPayload map[string][]map[string]string

// Value implements driver.Valuer for JSONB storage.
func (p ResultsPayload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *ResultsPayload) Scan(src any) error {
	return scanJSON(src, p)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON payload", src)
	}
}
