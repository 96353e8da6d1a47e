package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// tree is the generic JSON view of a Config used for dot-path access.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// lookup walks path and returns the section holding the leaf and its key.
func lookup(t tree, path string) (tree, string, error) {
	parts := strings.Split(path, ".")
	section := t
	for _, key := range parts[:len(parts)-1] {
		next, ok := section[key].(tree)
		if !ok {
			return nil, "", fmt.Errorf("unknown config section %q in %s", key, path)
		}
		section = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := section[leaf]; !ok {
		return nil, "", fmt.Errorf("unknown config key: %s", path)
	}
	return section, leaf, nil
}

// GetByPath returns the value at a dot-notation path such as "store.driver".
// A section path returns the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	section, leaf, err := lookup(t, path)
	if err != nil {
		return nil, err
	}
	return section[leaf], nil
}

// SetByPath assigns a leaf value given as text. The text is converted to
// the type the key already has, so "123" stays a string for a folder id and
// becomes a number for server.port.
func SetByPath(cfg *Config, path, value string) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	section, leaf, err := lookup(t, path)
	if err != nil {
		return err
	}

	switch current := section[leaf].(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		section[leaf] = b
	case float64:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number, got %q", path, value)
		}
		section[leaf] = n
	case string:
		section[leaf] = value
	default:
		return fmt.Errorf("%s is a %T and cannot be set from the command line", path, current)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	updated := *cfg
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = updated
	return nil
}

// Sanitize returns a copy of the config with connection passwords masked.
func Sanitize(cfg *Config) *Config {
	clean := *cfg
	clean.Events.AMQPURL = maskURLPassword(clean.Events.AMQPURL)
	if clean.Store.Driver == "postgres" {
		clean.Store.DSN = maskURLPassword(clean.Store.DSN)
	}
	return &clean
}

func maskURLPassword(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	pw, ok := u.User.Password()
	if !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), maskString(pw))
	return u.String()
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dot paths and their values.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", t, out)
	return out
}

func flatten(prefix string, t tree, out map[string]any) {
	for k, v := range t {
		if prefix != "" {
			k = prefix + "." + k
		}
		if sub, ok := v.(tree); ok {
			flatten(k, sub, out)
			continue
		}
		out[k] = v
	}
}
