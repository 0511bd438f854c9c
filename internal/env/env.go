package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to launched services: OS environment as
// the base (unless disabled), then supervisor-global variables, then the
// per-service list, with ${VAR} expansion over the composed map.
type Env struct {
	Var  Var // global variables (K->V)
	base Var // cached base from OS environment
	noOS bool
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// splitKV parses a "K=V" entry. Entries without '=' or with an empty key are
// rejected.
func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// SetUseOS controls whether the OS environment is used as the base. Enabled by
// default.
func (e *Env) SetUseOS(use bool) {
	e.noOS = !use
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var, len(os.Environ()))
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll sets global variables from a "K=V" slice, skipping malformed entries.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := splitKV(kv); ok {
			e.Set(k, v)
		}
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment for one service: OS base (unless
// disabled), overlaid with global Var, overlaid with perService "K=V" entries.
// ${VAR} placeholders are expanded against the composed map in a single pass;
// unknown placeholders stay as written. The result is sorted so launch logs
// and tests are reproducible.
func (e *Env) Merge(perService []string) []string {
	m := make(Var)
	if !e.noOS {
		if e.base == nil {
			e.FromOS()
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perService {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// expand substitutes ${NAME} occurrences from m, left to right. Substituted
// text is not rescanned, so self-referencing values cannot loop.
func expand(s string, m Var) string {
	start := strings.Index(s, "${")
	if start < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		b.WriteString(s[:start])
		s = s[start:]
		end := strings.IndexByte(s, '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		if v, ok := m[s[2:end]]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[:end+1])
		}
		s = s[end+1:]
		start = strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
	}
}
