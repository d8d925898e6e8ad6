package session

import "slices"

// Items is an ordered collection of session variables. Values are opaque
// bytes; insertion order is preserved through encoding.
// Items is not safe for concurrent use.
type Items struct {
	names  []string
	values map[string][]byte
}

// NewItems returns an empty collection.
func NewItems() *Items {
	return &Items{values: make(map[string][]byte)}
}

// Get returns the value stored under name.
func (it *Items) Get(name string) ([]byte, bool) {
	v, ok := it.values[name]
	return v, ok
}

// Set stores value under name. A new name is appended; an existing one keeps its position.
func (it *Items) Set(name string, value []byte) {
	if it.values == nil {
		it.values = make(map[string][]byte)
	}
	if _, ok := it.values[name]; !ok {
		it.names = append(it.names, name)
	}
	it.values[name] = value
}

// Delete removes name from the collection.
func (it *Items) Delete(name string) {
	if _, ok := it.values[name]; !ok {
		return
	}
	delete(it.values, name)
	it.names = slices.DeleteFunc(it.names, func(n string) bool { return n == name })
}

// Names returns the variable names in order.
func (it *Items) Names() []string {
	return slices.Clone(it.names)
}

// Len returns the number of variables.
func (it *Items) Len() int {
	if it == nil {
		return 0
	}
	return len(it.names)
}

// Clear removes every variable.
func (it *Items) Clear() {
	it.names = nil
	it.values = make(map[string][]byte)
}

// Clone returns a deep copy.
func (it *Items) Clone() *Items {
	c := NewItems()
	if it == nil {
		return c
	}
	for _, name := range it.names {
		c.Set(name, slices.Clone(it.values[name]))
	}
	return c
}
