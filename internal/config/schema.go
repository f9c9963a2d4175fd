package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// clustersSchema is the structural contract for clusters.yaml. Settings keys
// are left open, only the skeleton the resolver depends on is pinned down.
const clustersSchema = `{
  "type": "object",
  "properties": {
    "shared": {"type": "object"},
    "clusters": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "hostname_pattern"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "hostname_pattern": {"type": "string", "minLength": 1}
        }
      }
    }
  },
  "required": ["clusters"]
}`

func validateClustersDocument(raw map[string]any) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(clustersSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("schema violations: %s", strings.Join(details, "; "))
}
