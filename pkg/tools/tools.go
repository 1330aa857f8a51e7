package tools

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/nstogner/devcli/pkg/models"
	"github.com/nstogner/devcli/pkg/sandbox"
)

// Tool identifies one member of the closed set of tools the agent may call.
type Tool int

const (
	ReadFile Tool = iota
	WriteFile
	DeleteFile
	ListFiles
	RunCommand

	numTools
)

var toolNames = [numTools]string{
	ReadFile:   "read_file",
	WriteFile:  "write_file",
	DeleteFile: "delete_file",
	ListFiles:  "list_files",
	RunCommand: "run_command",
}

func (t Tool) String() string {
	if t < 0 || t >= numTools {
		return fmt.Sprintf("Tool(%d)", int(t))
	}
	return toolNames[t]
}

// Lookup maps a tool name to its Tool.
func Lookup(name string) (Tool, bool) {
	for t, n := range toolNames {
		if n == name {
			return Tool(t), true
		}
	}
	return 0, false
}

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Descriptor is the metadata offered to the oracle for one tool.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  []Parameter        `json:"parameters"`
	Schema      *jsonschema.Schema `json:"input_schema"`
}

// Spec converts the descriptor for a model provider.
func (d Descriptor) Spec() models.ToolSpec {
	spec := models.ToolSpec{Name: d.Name, Description: d.Description}
	for _, p := range d.Parameters {
		spec.Params = append(spec.Params, models.ToolParam{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
			Default:     p.Default,
		})
	}
	return spec
}

// Registry binds each Tool to its descriptor, argument validator and
// implementation. It is immutable after NewRegistry.
type Registry struct {
	files  *sandbox.Files
	runner sandbox.Runner

	descriptors [numTools]Descriptor
	validators  [numTools]*validator
}

// NewRegistry builds the registry over the given file store and command
// runner.
func NewRegistry(files *sandbox.Files, runner sandbox.Runner) (*Registry, error) {
	r := &Registry{files: files, runner: runner}
	for t := range numTools {
		def := definitions[t]
		schema := reflectSchema(def.args)
		v, err := compileValidator(t.String(), schema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", t, err)
		}
		r.descriptors[t] = Descriptor{
			Name:        t.String(),
			Description: def.description,
			Parameters:  parameters(schema),
			Schema:      schema,
		}
		r.validators[t] = v
	}
	return r, nil
}

// Descriptors returns every descriptor in a stable order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, numTools)
	copy(out, r.descriptors[:])
	return out
}

// Specs returns the descriptors converted for a model provider.
func (r *Registry) Specs() []models.ToolSpec {
	specs := make([]models.ToolSpec, 0, numTools)
	for _, d := range r.descriptors {
		specs = append(specs, d.Spec())
	}
	return specs
}

// Descriptor returns the descriptor for name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	t, ok := Lookup(name)
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[t], true
}

// Root returns the directory the file tools are contained in.
func (r *Registry) Root() string {
	return r.files.Guard().Root()
}
