// Package env composes the environment handed to the backend process.
package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers configured variables on top of the OS environment.
type Env struct {
	Var  Var  // overrides (K->V)
	base Var  // cached OS environment
	noOS bool // start from an empty base instead of os.Environ
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// Isolated returns an Env that does not inherit the OS environment.
func Isolated() *Env {
	return &Env{Var: make(Var), base: make(Var), noOS: true}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = parse(os.Environ())
	e.noOS = false
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) *Env {
	if e.Var == nil {
		e.Var = make(Var)
	}
	if k != "" {
		e.Var[k] = v
	}
	return e
}

// SetPairs applies "K=V" entries. Malformed entries are ignored.
func (e *Env) SetPairs(pairs []string) *Env {
	for k, v := range parse(pairs) {
		e.Set(k, v)
	}
	return e
}

// LoadFile applies a dotenv style file: K=V lines, '#' comments, optional
// surrounding quotes on values.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		e.Set(k, unquote(strings.TrimSpace(line[i+1:])))
	}
	return nil
}

// Merge composes the final environment list:
// base (OS env unless isolated), then overrides, then extra "K=V" entries.
// ${VAR} references are expanded against the composed map (single pass).
// The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil && !e.noOS {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = v
	}
	for k, v := range parse(extra) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func parse(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
