package construct

import (
	"fmt"
	"sort"
	"strings"
)

// PathSeparator separates node ids in a node path.
const PathSeparator = "/"

// Node is a single vertex of the declarative infrastructure tree.
//
// A node is owned by its parent; the root owns the whole tree for its lifetime.
// Nodes are not safe for concurrent mutation.
type Node struct {
	id       string
	typ      string
	parent   *Node
	children []*Node
	index    map[string]*Node
	props    map[string]any
}

// NewRoot creates the root of a new tree.
func NewRoot(id, typ string) *Node {
	return &Node{
		id:    id,
		typ:   typ,
		index: make(map[string]*Node),
		props: make(map[string]any),
	}
}

// New creates a node with the given id and type tag under parent.
// Ids must be non-empty, must not contain the path separator and must be unique
// among siblings.
func New(parent *Node, id, typ string) (*Node, error) {
	if parent == nil {
		return nil, fmt.Errorf("node %q: parent is required", id)
	}
	if id == "" {
		return nil, fmt.Errorf("node under %s: id is required", parent.Path())
	}
	if strings.Contains(id, PathSeparator) {
		return nil, fmt.Errorf("node id %q must not contain %q", id, PathSeparator)
	}
	if _, exists := parent.index[id]; exists {
		return nil, fmt.Errorf("duplicate node id %q under %s", id, parent.Path())
	}

	n := &Node{
		id:     id,
		typ:    typ,
		parent: parent,
		index:  make(map[string]*Node),
		props:  make(map[string]any),
	}
	parent.children = append(parent.children, n)
	parent.index[id] = n
	return n, nil
}

// MustNew is like New but panics on error. Intended for tests and static trees.
func MustNew(parent *Node, id, typ string) *Node {
	n, err := New(parent, id, typ)
	if err != nil {
		panic(err)
	}
	return n
}

// ID returns the node id, unique among its siblings.
func (n *Node) ID() string {
	return n.id
}

// Type returns the declared type tag.
func (n *Node) Type() string {
	return n.typ
}

// Parent returns the owning node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Path returns the stable path of the node from the root, e.g. "App/Stack/Handler".
func (n *Node) Path() string {
	if n.parent == nil {
		return n.id
	}
	return n.parent.Path() + PathSeparator + n.id
}

// Children returns the children in declaration order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// FindChild returns the direct child with the given id.
func (n *Node) FindChild(id string) (*Node, bool) {
	c, ok := n.index[id]
	return c, ok
}

// FindPath resolves a relative path such as "DropSpam/Function".
func (n *Node) FindPath(rel string) (*Node, bool) {
	cur := n
	for _, part := range strings.Split(rel, PathSeparator) {
		next, ok := cur.FindChild(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Property returns the value stored under key.
func (n *Node) Property(key string) (any, bool) {
	v, ok := n.props[key]
	return v, ok
}

// StringProperty returns the value stored under key if it is a string.
func (n *Node) StringProperty(key string) (string, bool) {
	v, ok := n.props[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SetProperty stores value under key. Last write wins.
func (n *Node) SetProperty(key string, value any) {
	n.props[key] = value
}

// Properties returns a shallow copy of the property bag.
func (n *Node) Properties() map[string]any {
	out := make(map[string]any, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

// PropertyKeys returns the property keys in sorted order.
func (n *Node) PropertyKeys() []string {
	keys := make([]string, 0, len(n.props))
	for k := range n.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsCfnResource reports whether the node is a raw template resource
// (type tags of the form "Vendor::Service::Type").
func (n *Node) IsCfnResource() bool {
	return strings.Count(n.typ, "::") == 2
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s (%s)", n.Path(), n.typ)
}
