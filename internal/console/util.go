package console

import (
	"encoding/json"
	"fmt"
)

// PrettyJSON pretty-prints a value as indented JSON for display.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
