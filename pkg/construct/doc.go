// Package construct provides the in-memory tree of infrastructure-definition nodes
// that aspects mutate and that synthesis renders.
//
// Each node has a stable path, a declared type tag, ordered children and a
// last-write-wins property bag. The tree is strictly hierarchical, so walking it
// never needs cycle detection.
package construct
