package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://zoneserver.ai/schemas/"

var ErrUnknownType = errors.New("unknown message type")

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

// schemaFile maps a message type to its embedded schema file name.
func schemaFile(msgType string) string {
	return strings.ToLower(msgType) + ".schema.json"
}

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			names = append(names, e.Name())
		}
		out := make(map[string]*jsonschema.Schema, len(names))
		for _, n := range names {
			s, err := c.Compile(schemaBaseURL + n)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", n, err)
				return
			}
			out[n] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks raw against the embedded schema for msgType. Types without a schema
// return ErrUnknownType.
func Validate(msgType string, raw []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	s := all[schemaFile(msgType)]
	if s == nil {
		return fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}
