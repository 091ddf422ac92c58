package config

import (
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

var durationType = reflect.TypeFor[time.Duration]()

// Schema returns the JSON schema of the configuration file. Durations are
// strings in time.ParseDuration form, as in YAML.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{Type: "string", Pattern: `^(-?([0-9]+(\.[0-9]*)?(ns|us|µs|ms|s|m|h))+|0)$`}
			}
			return nil
		},
	}
	s := r.Reflect(&Config{})
	s.Version = "https://json-schema.org/draft/2020-12/schema"
	s.Title = "authchain configuration"
	return s
}
