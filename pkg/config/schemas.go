package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/fleetdeck/fleetdeck/pkg/provider"
)

// ErrSchema wraps every schema validation failure.
var ErrSchema = errors.New("schema validation failed")

// ValidationError is one schema violation.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// SchemaError carries all violations of one validation.
type SchemaError struct {
	Schema string
	Errors []ValidationError
}

func (e *SchemaError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return fmt.Sprintf("%s: %s: %s", ErrSchema, e.Schema, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match ErrSchema.
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

type schema struct {
	value cue.Value
}

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]schema
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]schema),
	}

	// Built-ins are constants; a compile failure is a programming error.
	for name, def := range builtinDefinitions {
		if err := sr.RegisterSchema(name, builtinProviderSchema, def); err != nil {
			panic(err)
		}
	}
	return sr
}

// RegisterSchema compiles source and registers the definition named def
// under name. An empty def registers the whole value.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s: definition %s not found", name, def)
		}
	}

	sr.schemas[name] = schema{value: val}
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	s, ok := sr.schemas[name]
	return s.value, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAgainstSchema validates data against a named schema. The data must
// be concrete once unified with the schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, name string, data interface{}) error {
	schemaVal, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schemaVal.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Schema: name, Errors: convertCUEErrors(err)}
	}
	return nil
}

// ValidateProvider validates a single provider spec.
func (sr *SchemaRegistry) ValidateProvider(ctx context.Context, spec provider.Spec) error {
	raw, err := toGeneric(spec)
	if err != nil {
		return err
	}
	return sr.ValidateAgainstSchema(ctx, "provider", raw)
}

// LoadProviderFile reads a YAML provider file, validates it against the
// provider file schema and decodes the specs.
func (sr *SchemaRegistry) LoadProviderFile(ctx context.Context, path string) ([]provider.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider file: %w", err)
	}
	return sr.ParseProviders(ctx, data)
}

// ParseProviders validates and decodes the content of a provider file.
func (sr *SchemaRegistry) ParseProviders(ctx context.Context, data []byte) ([]provider.Spec, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider file: %w", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "providers", raw); err != nil {
		return nil, err
	}

	var file struct {
		Providers []provider.Spec `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode provider file: %w", err)
	}

	seen := map[string]bool{}
	for _, spec := range file.Providers {
		if seen[spec.Name] {
			return nil, &SchemaError{Schema: "providers", Errors: []ValidationError{{
				Path:    "providers",
				Message: fmt.Sprintf("duplicate provider name %q", spec.Name),
			}}}
		}
		seen[spec.Name] = true
	}
	return file.Providers, nil
}

// toGeneric turns a spec into the plain maps CUE encodes, keyed by the YAML
// field names.
func toGeneric(v interface{}) (interface{}, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	var out interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	return out, nil
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

var builtinDefinitions = map[string]string{
	"provider":  "#Provider",
	"providers": "#ProviderFile",
}

const builtinProviderSchema = `
// Cluster connection: a kubeconfig context and the registries whose images
// are the operator's own application.
#ClusterConfig: {
	context:             string & !=""
	kubeconfig?:         string
	private_registries?: [...string & !=""]
}

// State backend location.
#StateBackendConfig: {
	backend:  "local" | "s3"
	path?:    string
	bucket?:  string
	key?:     string
	region?:  string
	profile?: string

	if backend == "local" {
		path: string & !=""
	}
	if backend == "s3" {
		bucket: string & !=""
		key:    string & !=""
		region: string & !=""
	}
}

#ConnectionConfig: {
	kind:    "cluster"
	cluster: #ClusterConfig
} | {
	kind:          "state-backend"
	state_backend: #StateBackendConfig
}

#Provider: {
	name:       string & =~"^[^/]{1,128}$"
	group:      string & !=""
	auto_sync?: bool
	config:     #ConnectionConfig
}

#ProviderFile: {
	providers: [...#Provider]
}
`
