package action

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Files is the on-disk shape of a container definition's "files:"
// mapping: each value is either a plain scalar string or a "!load"
// tagged load-reference.
type Files map[string]FileContent

// UnmarshalYAML decodes each files: entry, resolving the !load tag to a
// LoadRef and everything else to a LiteralContent.
func (f *Files) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("files: expected a mapping, got %v", node.Kind)
	}

	out := make(Files, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		valueNode := node.Content[i+1]

		fc, err := decodeFileContent(valueNode)
		if err != nil {
			return fmt.Errorf("files.%s: %w", key, err)
		}
		out[key] = fc
	}
	*f = out
	return nil
}

func decodeFileContent(node *yaml.Node) (FileContent, error) {
	if node.Tag == "!load" {
		var ref struct {
			Filename string `yaml:"filename"`
			IsBytes  bool   `yaml:"is_bytes"`
		}
		if node.Kind == yaml.ScalarNode {
			ref.Filename = node.Value
		} else if err := node.Decode(&ref); err != nil {
			return nil, err
		}
		return LoadRef{Filename: ref.Filename, IsBytes: ref.IsBytes}, nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return nil, fmt.Errorf("expected a scalar string or !load entry: %w", err)
	}
	return LiteralContent(s), nil
}
