package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	validate "github.com/santhosh-tekuri/jsonschema/v6"
)

func reflectSchema(args any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
		Anonymous:      true,
	}
	s := r.Reflect(args)
	s.Version = ""
	s.AdditionalProperties = jsonschema.FalseSchema
	return s
}

// parameters lists the schema's properties in declaration order.
func parameters(s *jsonschema.Schema) []Parameter {
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	var params []Parameter
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		params = append(params, Parameter{
			Name:        pair.Key,
			Type:        pair.Value.Type,
			Description: pair.Value.Description,
			Required:    required[pair.Key],
			Default:     pair.Value.Default,
		})
	}
	return params
}

type validator struct {
	schema *validate.Schema
}

func compileValidator(name string, s *jsonschema.Schema) (*validator, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	doc, err := validate.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("devcli://tools/%s.json", name)
	c := validate.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	return &validator{schema: compiled}, nil
}

// check validates args and, on success, decodes them into dst.
func (v *validator) check(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := validate.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%s", flatten(err))
	}
	return json.Unmarshal(raw, dst)
}

// flatten turns a multi-line validation report into one line, dropping the
// header that names the schema URL.
func flatten(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > 1 && strings.HasPrefix(lines[0], "jsonschema validation failed") {
		lines = lines[1:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(strings.TrimSpace(l), "- ")
	}
	return strings.Join(lines, "; ")
}
