package contract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/plugmesh/plugmesh/internal/core/comm"
	"github.com/plugmesh/plugmesh/pkg/variant"
)

// Capability flags advertised by a contract or required by a method.
type Capability uint64

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapStream
	CapAsync
	CapTransactional
)

// Has reports whether every flag in want is set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Param describes one method parameter. Type is a JSON type name; Pattern is
// an optional regular expression applied to string values.
type Param struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Pattern  string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Method describes one callable operation of a service.
type Method struct {
	Name         string        `json:"name" yaml:"name"`
	Params       []Param       `json:"params" yaml:"params"`
	Returns      string        `json:"returns" yaml:"returns"`
	Capabilities Capability    `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Example      variant.Value `json:"example,omitempty" yaml:"-"`
}

// Contract is the declarative schema of a named service: its methods,
// parameter shapes, semantic version and minimum-version dependencies.
type Contract struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Provider     string            `json:"provider" yaml:"provider"`
	Capabilities Capability        `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Methods      map[string]Method `json:"methods" yaml:"methods"`
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// namePattern accepts dotted lowercase identifiers: at least two segments,
// each starting with a letter (com.example.cache).
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// jsonTypes are the parameter types the validator understands.
var jsonTypes = map[string]struct{}{
	"string": {}, "number": {}, "boolean": {}, "array": {}, "object": {}, "any": {},
}

// Validate checks the structural invariants: a well-formed dotted name, a
// parseable major.minor.patch version, at least one method and non-empty
// method and parameter fields.
func (c *Contract) Validate() error {
	if !namePattern.MatchString(c.Name) {
		return fmt.Errorf("%w: service name %q does not match the dotted identifier pattern", comm.ErrInvalidConfiguration, c.Name)
	}
	if _, err := c.SemVer(); err != nil {
		return err
	}
	// go-version zero-pads short versions, so insist on the full form here
	if strings.Count(c.Version, ".") != 2 {
		return fmt.Errorf("%w: version %q must be major.minor.patch", comm.ErrInvalidConfiguration, c.Version)
	}
	if len(c.Methods) == 0 {
		return fmt.Errorf("%w: contract %q declares no methods", comm.ErrInvalidConfiguration, c.Name)
	}
	for key, m := range c.Methods {
		if m.Name == "" || m.Name != key {
			return fmt.Errorf("%w: method key %q and name %q must match and be non-empty", comm.ErrInvalidConfiguration, key, m.Name)
		}
		for _, p := range m.Params {
			if p.Name == "" {
				return fmt.Errorf("%w: method %q has a parameter with no name", comm.ErrInvalidConfiguration, m.Name)
			}
			if p.Type == "" {
				return fmt.Errorf("%w: parameter %q of method %q has no type", comm.ErrInvalidConfiguration, p.Name, m.Name)
			}
			if _, ok := jsonTypes[p.Type]; !ok {
				return fmt.Errorf("%w: parameter %q of method %q has unknown type %q", comm.ErrInvalidConfiguration, p.Name, m.Name, p.Type)
			}
			if p.Pattern != "" {
				if _, err := regexp.Compile(p.Pattern); err != nil {
					return fmt.Errorf("%w: parameter %q of method %q has invalid pattern: %v", comm.ErrInvalidConfiguration, p.Name, m.Name, err)
				}
			}
		}
	}
	for dep, minVer := range c.Dependencies {
		if !namePattern.MatchString(dep) {
			return fmt.Errorf("%w: dependency name %q is not a dotted identifier", comm.ErrInvalidConfiguration, dep)
		}
		if _, err := version.NewVersion(minVer); err != nil {
			return fmt.Errorf("%w: dependency %q has invalid minimum version %q", comm.ErrInvalidConfiguration, dep, minVer)
		}
	}
	return nil
}

// SemVer parses the declared version.
func (c *Contract) SemVer() (*version.Version, error) {
	ver, err := version.NewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid version %q: %v", comm.ErrInvalidConfiguration, c.Version, err)
	}
	return ver, nil
}

// ValidateCall checks a method invocation against the contract: the method
// must exist, required parameters must be present, values must conform to
// the declared JSON types, and string values must match the optional
// pattern. Params must be an object (or Null when the method takes nothing).
func (c *Contract) ValidateCall(methodName string, params variant.Value) error {
	m, ok := c.Methods[methodName]
	if !ok {
		return fmt.Errorf("%w: method %q not declared by %s", comm.ErrInvalidConfiguration, methodName, c.Name)
	}
	if params.Kind() != variant.Object && !params.IsNull() {
		return fmt.Errorf("%w: parameters for %q must be an object", comm.ErrInvalidConfiguration, methodName)
	}
	for _, p := range m.Params {
		if !params.Has(p.Name) {
			if p.Required {
				return fmt.Errorf("%w: missing required parameter %q for method %q", comm.ErrInvalidConfiguration, p.Name, methodName)
			}
			continue
		}
		val := params.Get(p.Name)
		if err := conform(val, p.Type); err != nil {
			return fmt.Errorf("%w: parameter %q of method %q: %v", comm.ErrInvalidConfiguration, p.Name, methodName, err)
		}
		if p.Pattern != "" && val.Kind() == variant.String {
			re, err := regexp.Compile(p.Pattern)
			if err == nil && !re.MatchString(val.Str()) {
				return fmt.Errorf("%w: parameter %q of method %q does not match pattern %q", comm.ErrInvalidConfiguration, p.Name, methodName, p.Pattern)
			}
		}
	}
	return nil
}

// conform checks one value against a declared JSON type name.
func conform(val variant.Value, typeName string) error {
	var want variant.Kind
	switch typeName {
	case "any":
		return nil
	case "string":
		want = variant.String
	case "number":
		want = variant.Number
	case "boolean":
		want = variant.Bool
	case "array":
		want = variant.Array
	case "object":
		want = variant.Object
	default:
		return fmt.Errorf("unknown declared type %q", typeName)
	}
	if val.Kind() != want {
		return fmt.Errorf("expected %s, got %s", typeName, val.Kind())
	}
	return nil
}
