package env

import (
	"bufio"
	"os"
	"sort"
	"strings"
)

// Env composes the environment handed to service processes.
type Env struct {
	vars map[string]string // global overrides
	base map[string]string // captured OS environment
}

// New captures the current OS environment as the base.
func New() *Env {
	e := &Env{vars: make(map[string]string), base: make(map[string]string)}
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			e.base[k] = v
		}
	}
	return e
}

// Set adds a global variable.
func (e *Env) Set(k, v string) {
	if k != "" {
		e.vars[k] = v
	}
}

// SetPairs adds "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.vars[k] = v
		}
	}
}

// LoadFile reads KEY=VALUE lines, ignoring blanks and # comments.
func (e *Env) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if k, v, ok := split(line); ok {
			e.vars[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
		}
	}
	return sc.Err()
}

// Merge returns base, then globals, then extra ("K=V"). ${VAR} references in
// globals and extra are expanded against the merged set; the captured OS
// environment is passed through verbatim. Output is sorted by key.
func (e *Env) Merge(extra ...string) []string {
	m := make(map[string]string, len(e.base)+len(e.vars)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	own := make(map[string]string, len(e.vars)+len(extra))
	for k, v := range e.vars {
		own[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := split(kv); ok {
			own[k] = v
		}
	}
	for k, v := range own {
		m[k] = v
	}
	for k, v := range own {
		m[k] = os.Expand(v, func(name string) string {
			if name == k {
				return e.base[name]
			}
			return m[name]
		})
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}
