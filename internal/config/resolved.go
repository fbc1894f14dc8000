package config

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Resolved is an immutable configuration snapshot produced once per
// process lifetime. It is never mutated after load; a new snapshot is
// produced only by a full restart.
type Resolved struct {
	values  map[string]string
	envFile string
}

func newResolved(values map[string]string, envFile string) *Resolved {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Resolved{values: copied, envFile: envFile}
}

// Get returns the value for key, or "" if the key is not in the schema.
func (r *Resolved) Get(key string) string {
	return r.values[key]
}

// EnvFile returns the .env path the snapshot was loaded from, or "".
func (r *Resolved) EnvFile() string {
	return r.envFile
}

// Keys returns all resolved keys in sorted order.
func (r *Resolved) Keys() []string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Duration returns the value of key parsed as a duration.
// Falls back to the schema default on parse failure.
func (r *Resolved) Duration(key string) time.Duration {
	if d, err := time.ParseDuration(r.values[key]); err == nil {
		return d
	}
	d, _ := time.ParseDuration(schemaByKey()[key].Default)
	return d
}

// Int returns the value of key parsed as an integer.
// Falls back to the schema default on parse failure.
func (r *Resolved) Int(key string) int {
	if n, err := strconv.Atoi(r.values[key]); err == nil {
		return n
	}
	n, _ := strconv.Atoi(schemaByKey()[key].Default)
	return n
}

// Bool returns the value of key parsed as a boolean, false on parse failure.
func (r *Resolved) Bool(key string) bool {
	b, _ := strconv.ParseBool(r.values[key])
	return b
}

// Environ renders the snapshot as KEY=VALUE pairs for the child process
// environment. Only non-empty values are exported.
func (r *Resolved) Environ() []string {
	env := make([]string, 0, len(r.values))
	for _, k := range r.Keys() {
		if v := r.values[k]; v != "" {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return env
}
