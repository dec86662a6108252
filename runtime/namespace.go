package runtime

import "sort"

// Namespace is a destination module object for export bindings. The
// object-file loader installs bindings here only after every relocation
// has been validated and applied; a failed load leaves the namespace
// untouched.
type Namespace struct {
	name  string
	attrs map[string]Value
}

// NewNamespace creates an empty namespace for a module.
func NewNamespace(name string) *Namespace {
	return &Namespace{name: name, attrs: make(map[string]Value)}
}

// Name returns the module name.
func (n *Namespace) Name() string {
	return n.name
}

// Bind stores an attribute, replacing any previous value.
func (n *Namespace) Bind(attr string, v Value) {
	n.attrs[attr] = v
}

// Attr looks up an attribute.
func (n *Namespace) Attr(attr string) (Value, bool) {
	v, ok := n.attrs[attr]
	return v, ok
}

// Names returns the bound attribute names, sorted.
func (n *Namespace) Names() []string {
	names := make([]string, 0, len(n.attrs))
	for name := range n.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
