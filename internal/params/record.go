package params

import (
	"sort"
	"strconv"
	"strings"
)

// Record is an immutable assignment of one value to each declared variable.
// The zero Record is empty and valid.
type Record struct {
	names  []string
	values map[string]Value
}

// Pair is a single (name, value) entry of a Record.
type Pair struct {
	Name  string
	Value Value
}

// NewRecord builds a record from pairs, keeping their order.
// A repeated name keeps its last value at its first position.
func NewRecord(pairs ...Pair) Record {
	r := Record{
		names:  make([]string, 0, len(pairs)),
		values: make(map[string]Value, len(pairs)),
	}
	for _, p := range pairs {
		if _, exists := r.values[p.Name]; !exists {
			r.names = append(r.names, p.Name)
		}
		r.values[p.Name] = p.Value
	}
	return r
}

// FromMap builds a record from m with names sorted alphabetically.
func FromMap(m map[string]Value) Record {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]Pair, len(names))
	for i, name := range names {
		pairs[i] = Pair{Name: name, Value: m[name]}
	}
	return NewRecord(pairs...)
}

// Len returns the number of variables in the record.
func (r Record) Len() int {
	return len(r.names)
}

// Names returns the variable names in declaration order.
func (r Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Has reports whether the record assigns name.
func (r Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns the value assigned to name.
func (r Record) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the value assigned to name, or nil.
func (r Record) Value(name string) Value {
	return r.values[name]
}

// Str returns the canonical string form of the value assigned to name.
func (r Record) Str(name string) string {
	return Format(r.values[name])
}

// Int returns the value assigned to name as an int.
func (r Record) Int(name string) (int, error) {
	v, ok := r.values[name]
	if !ok {
		return 0, Configf("variable %q is not set", name)
	}
	return AsInt(v)
}

// Float returns the value assigned to name as a float64.
func (r Record) Float(name string) (float64, error) {
	v, ok := r.values[name]
	if !ok {
		return 0, Configf("variable %q is not set", name)
	}
	return AsFloat(v)
}

// Pairs returns the record entries in declaration order.
func (r Record) Pairs() []Pair {
	out := make([]Pair, len(r.names))
	for i, name := range r.names {
		out[i] = Pair{Name: name, Value: r.values[name]}
	}
	return out
}

// Map returns a copy of the record as a map.
func (r Record) Map() map[string]Value {
	out := make(map[string]Value, len(r.names))
	for _, name := range r.names {
		out[name] = r.values[name]
	}
	return out
}

// Strings returns the canonical string form of every entry.
func (r Record) Strings() map[string]string {
	out := make(map[string]string, len(r.names))
	for _, name := range r.names {
		out[name] = Format(r.values[name])
	}
	return out
}

// Subset returns the entries of r named in names, in the order of names.
// Names absent from r are ignored.
func (r Record) Subset(names []string) Record {
	pairs := make([]Pair, 0, len(names))
	for _, name := range names {
		if v, ok := r.values[name]; ok {
			pairs = append(pairs, Pair{Name: name, Value: v})
		}
	}
	return NewRecord(pairs...)
}

// Merge returns r followed by the entries of other. Entries of other
// override entries of r with the same name.
func (r Record) Merge(other Record) Record {
	return NewRecord(append(r.Pairs(), other.Pairs()...)...)
}

// Key is the identity of the record: the sorted (name, value) pairs in
// canonical form, each side quoted so that separators inside names or
// values cannot make two different records collide. Two records with equal
// keys are the same experimental point.
func (r Record) Key() string {
	names := r.Names()
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Quote(name))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(Format(r.values[name])))
	}
	return b.String()
}

// Equal reports whether r and other are the same experimental point.
func (r Record) Equal(other Record) bool {
	return r.Len() == other.Len() && r.Key() == other.Key()
}

// String renders the record for logs, e.g. "{threads: 2, impl: a}".
func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(Format(r.values[name]))
	}
	b.WriteByte('}')
	return b.String()
}
