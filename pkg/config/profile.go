package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	rigerrors "churnrig/pkg/errors"
)

// LoadProfile reads a YAML rig profile: a single mapping of option names to
// scalar values, e.g.
//
//	rotors: "*Rotors"
//	rotation: 360
//	shimmy: false
func LoadProfile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile parses YAML profile data.
func ParseProfile(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, rigerrors.Wrap(err, rigerrors.ErrParse, "invalid YAML profile")
	}
	c := New()
	if len(doc.Content) == 0 {
		return c, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, rigerrors.New(rigerrors.ErrParse, "profile must be a mapping of option: value")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, rigerrors.New(rigerrors.ErrParse,
				fmt.Sprintf("line %d: %s must be a scalar", v.Line, k.Value))
		}
		if v.Tag == "!!null" {
			continue
		}
		c.Set(k.Value, v.Value)
	}
	return c, nil
}

// MarshalYAML renders the config as a YAML mapping in key order.
func (c *Config) MarshalYAML() (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range c.order {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: c.values[k]})
	}
	return node, nil
}
