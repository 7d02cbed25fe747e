package flclient

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/absmach/flclient/fabric"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/schema"
	"github.com/absmach/flclient/registry"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

//go:embed client.cue
var clientSchemaSource string

var clientSchema = schema.MustCompile(clientSchemaSource, "#Client")

const (
	keyCID         = "cid"
	keyPreTrainVal = "pre_train_val"
	keyFabric      = "fabric"
	keyDevices     = "devices"
	keyModel       = "model"
	keyData        = "data"

	keyName   = "name"
	keyConfig = "config"
)

// Config is the validated client configuration. It is only produced by
// Validate and must be treated as read-only.
type Config struct {
	CID           int             `json:"cid"`
	PreTrainVal   bool            `json:"pre_train_val"`
	ServerAddress string          `json:"server_address"`
	RootDir       string          `json:"root_dir"`
	Fabric        fabric.Config   `json:"fabric"`
	Model         ComponentConfig `json:"model"`
	Data          ComponentConfig `json:"data"`
}

// ComponentConfig selects a registered component by Name. Config holds the
// payload decoded by that component's factory.
type ComponentConfig struct {
	Name   string `json:"name"`
	Config any    `json:"config"`
}

type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError lists every constraint a raw configuration violates.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}

	return fmt.Sprintf("%s: %d violation(s): %s", pkgerrors.ErrConfigValidation, len(e.Violations), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return pkgerrors.ErrConfigValidation
}

// Fields returns the names of the offending fields.
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}

	return fields
}

type validation struct {
	violations []Violation
}

func (v *validation) add(field, format string, args ...any) {
	for _, existing := range v.violations {
		if existing.Field == field {
			return
		}
	}
	v.violations = append(v.violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

// addAll records schema violations found under prefix.
func (v *validation) addAll(prefix string, violations []schema.Violation) {
	for _, sv := range violations {
		field := sv.Path
		if prefix != "" && field != "" {
			field = prefix + "." + field
		} else if prefix != "" {
			field = prefix
		}
		v.add(field, "%s", sv.Message)
	}
}

// Validate checks raw against the client schema and the payload schema of
// each selected component. Every violation is reported, each under its own
// dotted field path. It allocates no model, data or device resource.
func Validate(raw map[string]any, reg *registry.Registry) (Config, error) {
	var v validation

	doc := coerce(schema.Normalize(raw))
	out, violations := clientSchema.Apply(doc)
	v.addAll("", violations)

	model := validateComponent(&v, keyModel, registry.KindModel, doc, reg)
	data := validateComponent(&v, keyData, registry.KindDataModule, doc, reg)

	if len(v.violations) == 0 {
		var cfg Config
		if err := json.Unmarshal(out, &cfg); err != nil {
			v.add(keyFabric+"."+keyDevices, "%v", err)
		}
		cfg.Model, cfg.Data = model, data
		if len(v.violations) == 0 {
			return cfg, nil
		}
	}

	sort.SliceStable(v.violations, func(i, j int) bool {
		return v.violations[i].Field < v.violations[j].Field
	})

	return Config{}, &ValidationError{Violations: v.violations}
}

// coerce accepts the string spellings some formats and command lines
// produce for the client id, pre_train_val and the device count.
func coerce(normalized any) map[string]any {
	doc, ok := normalized.(map[string]any)
	if !ok {
		return map[string]any{}
	}

	if s, ok := doc[keyCID].(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			doc[keyCID] = n
		}
	}
	if s, ok := doc[keyPreTrainVal].(string); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			doc[keyPreTrainVal] = b
		}
	}
	if f, ok := doc[keyFabric].(map[string]any); ok {
		if s, ok := f[keyDevices].(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				f[keyDevices] = n
			}
		}
	}

	return doc
}

// validateComponent resolves the component named under key and checks its
// payload against the factory schema. Shape errors of the component block
// itself are left to the client schema.
func validateComponent(v *validation, key string, kind registry.Kind, doc map[string]any, reg *registry.Registry) ComponentConfig {
	m, ok := doc[key].(map[string]any)
	if !ok {
		return ComponentConfig{}
	}
	name, ok := m[keyName].(string)
	if !ok || name == "" {
		return ComponentConfig{}
	}
	cc := ComponentConfig{Name: name}

	factory, err := reg.Resolve(kind, name)
	if err != nil {
		v.add(key+"."+keyName, "%q does not match any registered %s (%s)", name, kind, strings.Join(reg.Names(kind), ", "))

		return cc
	}

	payload := map[string]any{}
	switch p := m[keyConfig].(type) {
	case nil:
	case map[string]any:
		payload = p
	default:
		return cc
	}

	decoded, err := factory.Decode(payload)
	var serr *schema.Error
	switch {
	case errors.As(err, &serr):
		v.addAll(key+"."+keyConfig, serr.Violations)
	case err != nil:
		v.add(key+"."+keyConfig, "%v", err)
	default:
		cc.Config = decoded
	}

	return cc
}

// LoadConfig reads a TOML, YAML or JSON file, applies overrides on top of
// its top-level keys and validates the result.
func LoadConfig(path string, reg *registry.Registry, overrides map[string]any) (Config, error) {
	raw, err := ReadRawConfig(path)
	if err != nil {
		return Config{}, err
	}
	for k, v := range overrides {
		raw[k] = v
	}

	return Validate(raw, reg)
}

// ReadRawConfig parses a configuration file without validating it.
func ReadRawConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		tree, err := toml.Load(string(data))
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		raw = tree.ToMap()
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("config file %s: unsupported extension %q: %w", path, ext, pkgerrors.ErrInvalidValue)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	return raw, nil
}
