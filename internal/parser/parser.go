package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"jobrunner/pkg/job"
)

var validate *validator.Validate

// Payload errors that mean the backend did not return a config at all.
var (
	ErrEmptyConfig   = errors.New("empty job config response")
	ErrNotJSONObject = errors.New("job config response is not a JSON object")
)

func init() {
	validate = validator.New()
}

// Validate runs struct validation and converts failures into readable errors.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		return FormatValidationError(err)
	}
	return nil
}

// ParseJobConfig decodes and validates a job config payload returned by the
// backend. The payload must be a JSON object and keys match case-sensitively;
// the GPU flag is false unless it is a JSON boolean true.
func ParseJobConfig(data []byte) (*job.Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyConfig
	}
	if trimmed[0] != '{' {
		return nil, ErrNotJSONObject
	}

	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse job config - malformed JSON: %w", err)
	}

	cfg := &job.Config{
		Runtime: job.Runtime{
			Docker: job.DockerRuntime{
				Image:   strings.TrimSpace(stringValue(lookup(raw, "runtime", "docker", "image"))),
				Command: strings.TrimSpace(stringValue(lookup(raw, "runtime", "docker", "command"))),
			},
		},
	}

	if gpu, ok := lookup(raw, "runtime", "docker", "gpu").(bool); ok {
		cfg.Runtime.Docker.GPU = gpu
	}

	scripts, err := scriptNames(lookup(raw, "bootstrap", "scripts"))
	if err != nil {
		return nil, err
	}
	cfg.Bootstrap.Scripts = scripts

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// lookup walks nested JSON objects by exact key. A missing key or a
// non-object on the way yields nil.
func lookup(m map[string]any, path ...string) any {
	var value any = m
	for _, key := range path {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = obj[key]
	}
	return value
}

// scriptNames accepts only a JSON array of strings. Any other shape,
// including a bare string, means no scripts.
func scriptNames(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("validation error: field 'Config.Bootstrap.Scripts[%d]' must be a string", i)
		}
		names = append(names, name)
	}
	return names, nil
}

// stringValue returns s only when the JSON value was a string, so that
// null or structured values count as missing.
func stringValue(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return s
}

// FormatValidationError converts validator errors into user-friendly messages.
func FormatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		result := "validation errors:\n"
		for _, msg := range errorMessages {
			result += fmt.Sprintf("  - %s\n", msg)
		}
		return fmt.Errorf("%s", result)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, e.Param())
	case "excludesall":
		return fmt.Sprintf("field '%s' must not contain any of %q", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, tag)
	}
}
