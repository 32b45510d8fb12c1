package timeline

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Write dumps the timeline as YAML for inspection.
func Write(tl *Timeline, path string) error {
	data, err := yaml.Marshal(tl)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads a timeline previously written by Write.
func Read(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tl Timeline
	if err := yaml.Unmarshal(data, &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}
