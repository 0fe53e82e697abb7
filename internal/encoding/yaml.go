// Package encoding provides small helpers for loading the scanner's YAML
// configuration file, grounded on pkg/encoding.
package encoding

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadAndUnmarshalYAML loads data from the specified path and decodes it into
// the specified structure. A missing file is not an error: it is reported via
// os.IsNotExist so callers can treat "no configuration file" as "use defaults".
func LoadAndUnmarshalYAML(path string, value interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("unable to load file: %w", err)
	}
	if err := yaml.Unmarshal(data, value); err != nil {
		return fmt.Errorf("unable to unmarshal data: %w", err)
	}
	return nil
}
