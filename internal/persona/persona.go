// Package persona enumerates the model personas applied in the restyle stage.
package persona

import (
	"fmt"
	"strings"
)

// Persona is a named styling target. The zero value means "not selected".
type Persona string

const (
	Korean   Persona = "Korean"
	Chinese  Persona = "Chinese"
	European Persona = "European/American"
)

// all is ordered the way personas are presented to users.
var all = []Persona{Korean, Chinese, European}

var displayNames = map[Persona]string{
	Korean:   "Korean Model",
	Chinese:  "Chinese Model",
	European: "European/American Model",
}

// All returns every persona in presentation order.
func All() []Persona {
	out := make([]Persona, len(all))
	copy(out, all)
	return out
}

// Valid reports whether p is one of the enumerated personas.
func (p Persona) Valid() bool {
	_, ok := displayNames[p]
	return ok
}

// DisplayName returns the human-facing label, e.g. "Korean Model".
func (p Persona) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}

func (p Persona) String() string {
	return string(p)
}

// Parse resolves user input to a persona. It accepts the persona value or its
// display name case-insensitively, plus "european" and "american" as aliases.
func Parse(s string) (Persona, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return "", fmt.Errorf("persona is required")
	}
	for _, p := range all {
		if in == strings.ToLower(string(p)) || in == strings.ToLower(displayNames[p]) {
			return p, nil
		}
	}
	switch in {
	case "european", "american":
		return European, nil
	}
	return "", fmt.Errorf("unknown persona %q (want one of %s)", s, strings.Join(names(), ", "))
}

func names() []string {
	out := make([]string, 0, len(all))
	for _, p := range all {
		out = append(out, string(p))
	}
	return out
}
