package feeder

import (
	"encoding/json"
	"fmt"
	"io"
)

// ReadJSON reads records from a JSON array of flat objects. Values are
// converted to their string form; numbers keep their literal text.
func ReadJSON(r io.Reader) ([]Record, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var rawRecords []map[string]interface{}
	if err := decoder.Decode(&rawRecords); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	if len(rawRecords) == 0 {
		return nil, ErrEmpty
	}

	records := make([]Record, 0, len(rawRecords))
	for i, rawRecord := range rawRecords {
		if len(rawRecord) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		record := make(Record, len(rawRecord))
		for key, value := range rawRecord {
			switch v := value.(type) {
			case nil:
				record[key] = ""
			case string:
				record[key] = v
			case json.Number, bool:
				record[key] = fmt.Sprint(v)
			default:
				return nil, fmt.Errorf("record %d field %s: nested values are not supported", i, key)
			}
		}
		records = append(records, record)
	}
	return records, nil
}
