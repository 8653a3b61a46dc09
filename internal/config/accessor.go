package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toMap round-trips cfg through JSON so paths follow the json tags.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a value by dot path, e.g. "dispatch.maxAttempts".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a value by dot path. String values are converted to bool or
// number when the target field accepts it. Unknown keys are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	updated, err := setPath(cfg, path, parseValue(value))
	if err != nil {
		if raw, ok := value.(string); ok {
			updated, err = setPath(cfg, path, raw)
		}
		if err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	if _, err := GetByPath(updated, path); err != nil && value != "" {
		return fmt.Errorf("unknown setting: %s", path)
	}
	*cfg = *updated
	return nil
}

func setPath(cfg *Config, path string, value any) (*Config, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = value

	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	updated := &Config{}
	if err := json.Unmarshal(data, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with credentials masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Telegram.AllowFrom = append(FlexStringList(nil), cfg.Telegram.AllowFrom...)
	c.WhatsApp.AccessToken = maskString(c.WhatsApp.AccessToken)
	c.WhatsApp.AppSecret = maskString(c.WhatsApp.AppSecret)
	c.WhatsApp.VerifyToken = maskString(c.WhatsApp.VerifyToken)
	c.Telegram.Token = maskString(c.Telegram.Token)
	c.Webhook.Secret = maskString(c.Webhook.Secret)
	return &c
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// PathValue is one leaf setting.
type PathValue struct {
	Path  string
	Value any
}

// ListPaths returns every leaf setting sorted by path.
func ListPaths(cfg *Config) []PathValue {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	var out []PathValue
	flatten("", m, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flatten(prefix string, m map[string]any, out *[]PathValue) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, out)
			continue
		}
		*out = append(*out, PathValue{Path: path, Value: v})
	}
}
