// Package config holds the rig's flat key=value configuration with access
// tracking and typed getters.
//
// Text format, one entry per line:
//
//	# comment
//	key=value
//	flag        (same as flag=true)
//	!flag       (same as flag=false)
//
// Keys are case-insensitive. A later line for the same key wins.
package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Config is an ordered set of options.
type Config struct {
	mu       sync.RWMutex
	values   map[string]string
	order    []string
	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		values:   make(map[string]string),
		accessed: make(map[string]struct{}),
	}
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadString(string(data))
}

// LoadString parses config text.
func LoadString(data string) (*Config, error) {
	c := New()
	for n, line := range strings.Split(data, "\n") {
		key, value, ok := parseLine(line)
		if !ok {
			continue
		}
		if key == "" {
			return nil, errSyntax(n+1, line)
		}
		c.Set(key, value)
	}
	return c, nil
}

func parseLine(line string) (key, value string, ok bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	if i := strings.IndexByte(line, '='); i >= 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
	}
	if strings.HasPrefix(line, "!") {
		return strings.TrimSpace(line[1:]), "false", true
	}
	return line, "true", true
}

// Set stores value under key, keeping the key's original position.
func (c *Config) Set(key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

// Has reports whether key is set.
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[strings.ToLower(key)]
	return ok
}

// Keys returns the keys in first-seen order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Map returns a copy of all values.
func (c *Config) Map() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy with fresh access tracking.
func (c *Config) Clone() *Config {
	out := New()
	if c == nil {
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.order {
		out.Set(k, c.values[k])
	}
	return out
}

// Merge returns a new Config holding c's values overridden by other's.
// Either side may be nil.
func (c *Config) Merge(other *Config) *Config {
	out := c.Clone()
	if other == nil {
		return out
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	for _, k := range other.order {
		out.Set(k, other.values[k])
	}
	return out
}

// String renders the config back to text.
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sb strings.Builder
	for _, k := range c.order {
		fmt.Fprintf(&sb, "%s=%s\n", k, c.values[k])
	}
	return sb.String()
}

func (c *Config) lookup(key string) (string, bool) {
	key = strings.ToLower(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessed[key] = struct{}{}
	v, ok := c.values[key]
	return v, ok
}

// Unused returns the keys no getter has asked for, sorted.
func (c *Config) Unused() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for k := range c.values {
		if _, ok := c.accessed[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Get returns a string value, the fallback if the key is absent, or an
// error if neither exists.
func (c *Config) Get(key string, fallback ...string) (string, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", errMissing(key)
}

// GetInt returns an integer value.
func (c *Config) GetInt(key string, fallback ...int) (int, error) {
	v, ok := c.lookup(key)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, errMissing(key)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errInvalid(key, v, "integer", err)
	}
	return i, nil
}

// GetFloat returns a float value. NaN and infinities are rejected.
func (c *Config) GetFloat(key string, fallback ...float64) (float64, error) {
	v, ok := c.lookup(key)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, errMissing(key)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, errInvalid(key, v, "float", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errInvalid(key, v, "finite float", nil)
	}
	return f, nil
}

// GetBool returns a boolean value. Accepts true/false, yes/no, on/off, 1/0.
func (c *Config) GetBool(key string, fallback ...bool) (bool, error) {
	v, ok := c.lookup(key)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return false, errMissing(key)
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, errInvalid(key, v, "boolean", nil)
}

// FloatBounds constrains a float option. Nil fields are unchecked.
type FloatBounds struct {
	Min, Max           *float64
	Above, Below       *float64
	ClampInsteadOfFail bool
}

// Float is a convenience for building FloatBounds literals.
func Float(v float64) *float64 { return &v }

// GetFloatWithBounds returns a float value checked against b. With
// ClampInsteadOfFail set, Min and Max clamp rather than fail.
func (c *Config) GetFloatWithBounds(key string, b FloatBounds, fallback ...float64) (float64, error) {
	f, err := c.GetFloat(key, fallback...)
	if err != nil {
		return 0, err
	}
	if b.Min != nil && f < *b.Min {
		if !b.ClampInsteadOfFail {
			return 0, errRange(key, f, fmt.Sprintf("must be at least %g", *b.Min))
		}
		f = *b.Min
	}
	if b.Max != nil && f > *b.Max {
		if !b.ClampInsteadOfFail {
			return 0, errRange(key, f, fmt.Sprintf("must be at most %g", *b.Max))
		}
		f = *b.Max
	}
	if b.Above != nil && f <= *b.Above {
		return 0, errRange(key, f, fmt.Sprintf("must be above %g", *b.Above))
	}
	if b.Below != nil && f >= *b.Below {
		return 0, errRange(key, f, fmt.Sprintf("must be below %g", *b.Below))
	}
	return f, nil
}
