package command

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldInt64
	FieldStringList
	FieldFile
)

// Field defines a CLI input field.
type Field struct {
	Name    string
	Aliases []string
	Prompt  string
	Type    FieldType
	// Required fields are prompted for when missing, unless one of AnyOf is set.
	Required bool
	AnyOf    []string
}

// Handler runs a command against the session environment and returns the value to render.
type Handler func(ctx context.Context, env *Env, params Params) (interface{}, error)

// Command defines a CLI command binding.
type Command struct {
	Service string
	Action  string
	Usage   string
	Fields  []Field
	Run     Handler
}

// Key is the registry key of the command.
func (c Command) Key() string {
	return c.Service + " " + c.Action
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// Missing lists required fields that have no value and no alternative.
func (p Params) Missing(fields []Field) []Field {
	var missing []Field
	for _, field := range fields {
		if !field.Required || p.Get(field.Name) != "" {
			continue
		}
		satisfied := false
		for _, alt := range field.AnyOf {
			if p.Get(alt) != "" {
				satisfied = true
				break
			}
		}
		if !satisfied {
			missing = append(missing, field)
		}
	}
	return missing
}

// Check validates the typed fields that are present.
func (p Params) Check(fields []Field) error {
	for _, field := range fields {
		value := p.Get(field.Name)
		if value == "" {
			continue
		}
		switch field.Type {
		case FieldInt:
			if _, err := ParseInt(value); err != nil {
				return fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		case FieldInt64:
			if _, err := ParseInt64(value); err != nil {
				return fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		case FieldFile:
			if _, err := os.Stat(value); err != nil {
				return fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		case FieldString, FieldStringList:
		}
	}
	return nil
}

func ParseInt64(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ParseStringList(value string) []string {
	raw := strings.Split(value, ",")
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
