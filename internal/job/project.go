package job

import "encoding/json"

// Project serializes the job and, if fields is non-empty, restricts the
// resulting JSON object to that field set (always including "id"), per
// spec.md §4.2's GetJob "fields" projection. A nil/empty fields list
// means "all fields".
func (j *Job) Project(fields []string) (json.RawMessage, error) {
	full, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return full, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(full, &obj); err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(fields)+1)
	keep["id"] = true
	for _, f := range fields {
		keep[f] = true
	}

	projected := make(map[string]json.RawMessage, len(keep))
	for k, v := range obj {
		if keep[k] {
			projected[k] = v
		}
	}
	return json.Marshal(projected)
}
