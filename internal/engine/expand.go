// SPDX-License-Identifier: MPL-2.0

package engine

import "os"

// Expander substitutes the engine-provided variables ($PACKAGE_DIR,
// $SESSION_DIR, $TEMPORARY_DIR) and the process environment into action
// arguments. Variables with no value are left as written, so a descriptor
// referencing $TEMPORARY_DIR outside a prepared package keeps the literal
// text instead of silently collapsing to an empty path.
type Expander struct {
	vars map[string]string
}

// NewExpander returns an Expander with no registered variables.
func NewExpander() *Expander {
	return &Expander{vars: make(map[string]string)}
}

// Register maps $key to value for subsequent expansions.
func (e *Expander) Register(key, value string) {
	e.vars[key] = value
}

// Lookup returns the registered value of key.
func (e *Expander) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Expand substitutes every known variable in s.
func (e *Expander) Expand(s string) string {
	return os.Expand(s, func(key string) string {
		if v, ok := e.vars[key]; ok {
			return v
		}
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return "$" + key
	})
}

// Environ returns the process environment extended with the registered
// variables, for handing to shell commands.
func (e *Expander) Environ() []string {
	env := os.Environ()
	for key, value := range e.vars {
		env = append(env, key+"="+value)
	}
	return env
}
