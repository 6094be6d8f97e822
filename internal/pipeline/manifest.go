package pipeline

import (
	"fmt"
	"strings"

	"github.com/steveyegge/campaign/internal/params"
)

// Param is one named input of a stage function.
type Param struct {
	Name       string
	Default    params.Value
	HasDefault bool
}

// Required declares a parameter that must come from the record or the
// constants.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default used when neither the
// record nor the constants provide it.
func Optional(name string, def params.Value) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Manifest lists the parameters a stage function consumes. Only these are
// passed to it; every other variable and constant is withheld.
type Manifest []Param

// Params declares required parameters.
func Params(names ...string) Manifest {
	m := make(Manifest, len(names))
	for i, name := range names {
		m[i] = Required(name)
	}
	return m
}

// Names returns the declared parameter names.
func (m Manifest) Names() []string {
	names := make([]string, len(m))
	for i, p := range m {
		names[i] = p.Name
	}
	return names
}

// Has reports whether the manifest declares name.
func (m Manifest) Has(name string) bool {
	for _, p := range m {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Check verifies that every required parameter is among available.
func (m Manifest) Check(stage Stage, available map[string]bool) error {
	var missing []string
	for _, p := range m {
		if !available[p.Name] && !p.HasDefault {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return params.Configf("%s stage needs %s, which is neither a variable nor a constant",
			stage, strings.Join(missing, ", "))
	}
	return nil
}

// Resolve picks the declared parameters from the record, then from the
// constants, then from the defaults. It also returns the parameters that
// fell back to their default.
func (m Manifest) Resolve(record, constants params.Record) (args, defaults params.Record, err error) {
	pairs := make([]params.Pair, 0, len(m))
	var defaulted []params.Pair
	for _, p := range m {
		if v, ok := record.Get(p.Name); ok {
			pairs = append(pairs, params.Pair{Name: p.Name, Value: v})
			continue
		}
		if v, ok := constants.Get(p.Name); ok {
			pairs = append(pairs, params.Pair{Name: p.Name, Value: v})
			continue
		}
		if p.HasDefault {
			pairs = append(pairs, params.Pair{Name: p.Name, Value: p.Default})
			defaulted = append(defaulted, params.Pair{Name: p.Name, Value: p.Default})
			continue
		}
		return params.Record{}, params.Record{}, fmt.Errorf("missing parameter %q", p.Name)
	}
	return params.NewRecord(pairs...), params.NewRecord(defaulted...), nil
}
