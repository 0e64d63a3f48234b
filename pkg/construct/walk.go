package construct

import "errors"

// SkipChildren can be returned by a WalkFunc to skip the subtree of the current node.
var SkipChildren = errors.New("skip children")

// WalkFunc is called once per visited node.
type WalkFunc func(n *Node) error

// Walk visits root and every descendant exactly once in pre-order.
// Traversal stops at the first error other than SkipChildren.
func Walk(root *Node, fn WalkFunc) error {
	if root == nil {
		return nil
	}
	if err := fn(root); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	for _, c := range root.children {
		if err := Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of nodes in the tree rooted at root.
func Count(root *Node) int {
	n := 0
	_ = Walk(root, func(*Node) error {
		n++
		return nil
	})
	return n
}
