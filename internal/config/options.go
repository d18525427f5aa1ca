package config

import (
	"encoding/json"
	"fmt"
)

// OptionType enumerates the value kinds a sensor option can take.
type OptionType int

const (
	IntType OptionType = iota
	BoolType
	StringType
)

// Option describes one configurable sensor parameter: its name, type,
// default value and a human description surfaced by the control CLIs.
type Option struct {
	Name        string
	Type        OptionType
	Default     any
	Description string
}

// IntOption declares an integer option.
func IntOption(name string, def int, desc string) Option {
	return Option{Name: name, Type: IntType, Default: def, Description: desc}
}

// BoolOption declares a boolean option.
func BoolOption(name string, def bool, desc string) Option {
	return Option{Name: name, Type: BoolType, Default: def, Description: desc}
}

// StringOption declares a string option.
func StringOption(name string, def string, desc string) Option {
	return Option{Name: name, Type: StringType, Default: def, Description: desc}
}

// ResolveInt returns the configured value for an integer option, or its
// default when absent. A value of the wrong type is a configuration error.
func ResolveInt(raw map[string]json.RawMessage, opt Option) (int, error) {
	v, ok := raw[opt.Name]
	if !ok {
		return opt.Default.(int), nil
	}
	var out int
	if err := json.Unmarshal(v, &out); err != nil {
		return 0, fmt.Errorf("config: option %s: expected integer: %w", opt.Name, err)
	}
	return out, nil
}

// ResolveBool returns the configured value for a boolean option, or its
// default when absent.
func ResolveBool(raw map[string]json.RawMessage, opt Option) (bool, error) {
	v, ok := raw[opt.Name]
	if !ok {
		return opt.Default.(bool), nil
	}
	var out bool
	if err := json.Unmarshal(v, &out); err != nil {
		return false, fmt.Errorf("config: option %s: expected boolean: %w", opt.Name, err)
	}
	return out, nil
}

// ResolveString returns the configured value for a string option, or its
// default when absent.
func ResolveString(raw map[string]json.RawMessage, opt Option) (string, error) {
	v, ok := raw[opt.Name]
	if !ok {
		return opt.Default.(string), nil
	}
	var out string
	if err := json.Unmarshal(v, &out); err != nil {
		return "", fmt.Errorf("config: option %s: expected string: %w", opt.Name, err)
	}
	return out, nil
}
