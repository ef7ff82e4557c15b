package roimatch

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyPatterns is one entry of a MatchMap.
type KeyPatterns struct {
	Key      string
	Patterns []string
}

// MatchMap is an ordered mapping of output key to regex patterns. In YAML it
// is a mapping whose values are a single pattern or a list of patterns; key
// order is preserved.
type MatchMap []KeyPatterns

// DefaultMatchMap matches every ROI under the key "ROI".
func DefaultMatchMap() MatchMap {
	return MatchMap{{Key: "ROI", Patterns: []string{".*"}}}
}

// Clone returns a deep copy.
func (mm MatchMap) Clone() MatchMap {
	if mm == nil {
		return nil
	}
	out := make(MatchMap, len(mm))
	for i, kp := range mm {
		out[i] = KeyPatterns{Key: kp.Key, Patterns: append([]string(nil), kp.Patterns...)}
	}
	return out
}

func (mm MatchMap) String() string {
	parts := make([]string, len(mm))
	for i, kp := range mm {
		parts[i] = fmt.Sprintf("%s: %q", kp.Key, kp.Patterns)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (mm *MatchMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: match map must be a mapping", node.Line)
	}
	out := make(MatchMap, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		kp := KeyPatterns{Key: keyNode.Value}
		switch valNode.Kind {
		case yaml.ScalarNode:
			kp.Patterns = []string{valNode.Value}
		case yaml.SequenceNode:
			if err := valNode.Decode(&kp.Patterns); err != nil {
				return fmt.Errorf("line %d: patterns for %q: %w", valNode.Line, kp.Key, err)
			}
		default:
			return fmt.Errorf("line %d: patterns for %q must be a string or a list", valNode.Line, kp.Key)
		}
		out = append(out, kp)
	}
	*mm = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (mm MatchMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, kp := range mm {
		val := &yaml.Node{Kind: yaml.SequenceNode}
		for _, p := range kp.Patterns {
			val.Content = append(val.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p})
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kp.Key}, val)
	}
	return node, nil
}
