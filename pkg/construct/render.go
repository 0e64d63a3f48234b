package construct

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Snapshot is a serializable copy of a node and its subtree.
type Snapshot struct {
	ID         string         `json:"id" yaml:"id"`
	Path       string         `json:"path" yaml:"path"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []Snapshot     `json:"children,omitempty" yaml:"children,omitempty"`
}

// Snap captures the current state of the tree rooted at n.
func Snap(n *Node) Snapshot {
	s := Snapshot{
		ID:   n.id,
		Path: n.Path(),
		Type: n.typ,
	}
	if len(n.props) > 0 {
		s.Properties = n.Properties()
	}
	for _, c := range n.children {
		s.Children = append(s.Children, Snap(c))
	}
	return s
}

// Render serializes the tree rooted at n in the given format ("yaml" or "json").
func Render(n *Node, format string) ([]byte, error) {
	snap := Snap(n)
	switch format {
	case "", "yaml":
		return yaml.Marshal(snap)
	case "json":
		return json.MarshalIndent(snap, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
