package idp

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// FindIDByName scans a JSON array of objects and returns the value at
// idPath for the first element whose namePath equals name, ignoring case.
// Provider name filters are substring or prefix matches, so the exact
// comparison happens here.
func FindIDByName(raw json.RawMessage, namePath, idPath, name string) (string, bool) {
	result := gjson.ParseBytes(raw)
	if !result.IsArray() {
		return "", false
	}

	var id string

	result.ForEach(func(_, item gjson.Result) bool {
		if strings.EqualFold(item.Get(namePath).String(), name) {
			id = item.Get(idPath).String()
			return false
		}

		return true
	})

	return id, id != ""
}
