package config

// treeSchema constrains tree definitions. Node ids become path segments, so
// they must be non-empty and free of the path separator.
const treeSchema = `
#Node: {
	id:   string & =~"^[^/]+$"
	type: string & !=""
	props?: {[string]: _}
	children?: [...#Node]
}
`

// RootField is the top-level field holding the tree root.
const RootField = "app"
