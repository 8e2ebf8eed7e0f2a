package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/homegateway/internal/device"
)

// Validation limits.
const (
	maxNameLength = 64
	maxSteps      = 100
	maxDepth      = 5
	namePattern   = `^[a-z0-9]+(?:[-_][a-z0-9]+)*$`
)

var nameRegex = regexp.MustCompile(namePattern)

// Parse decodes a YAML or JSON definition and validates it. Enabled
// defaults to true.
func Parse(data []byte) (*Workflow, error) {
	wf := &Workflow{Enabled: true}
	trimmed := bytes.TrimSpace(data)
	var err error
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		err = dec.Decode(wf)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		err = dec.Decode(wf)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Validate checks a workflow and returns every problem found, joined.
func Validate(wf *Workflow) error {
	if wf == nil {
		return ErrInvalidWorkflow
	}
	var errs []error
	if err := ValidateName(wf.Name); err != nil {
		errs = append(errs, err)
	}
	if len(wf.Steps) == 0 {
		errs = append(errs, ErrNoSteps)
	}
	if n := countSteps(wf.Steps); n > maxSteps {
		errs = append(errs, fmt.Errorf("%w: %d steps exceeds maximum of %d", ErrInvalidWorkflow, n, maxSteps))
	}
	errs = append(errs, validateSteps(wf.Steps, "", 1)...)
	return errors.Join(errs...)
}

// ValidateName checks a workflow name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric with - or _", ErrInvalidName, name)
	}
	return nil
}

func validateSteps(steps []Step, prefix string, depth int) []error {
	if depth > maxDepth {
		return []error{fmt.Errorf("%w: %s nesting deeper than %d", ErrInvalidStep, strings.TrimSuffix(prefix, "."), maxDepth)}
	}
	var errs []error
	for i, s := range steps {
		path := fmt.Sprintf("%s%d", prefix, i)
		set := 0
		if s.Command != nil {
			set++
			errs = append(errs, validateCommand(path, s.Command)...)
		}
		if s.If != nil {
			set++
			if err := validateCondition(path+".if", s.If.Condition); err != nil {
				errs = append(errs, err)
			}
			if len(s.If.Steps) == 0 {
				errs = append(errs, fmt.Errorf("%w: step %s: conditional has no steps", ErrInvalidStep, path))
			}
			errs = append(errs, validateSteps(s.If.Steps, path+".if.", depth+1)...)
		}
		if s.Notify != nil {
			set++
			if strings.TrimSpace(s.Notify.Message) == "" {
				errs = append(errs, fmt.Errorf("%w: step %s: notify message is required", ErrInvalidStep, path))
			}
		}
		if set != 1 {
			errs = append(errs, fmt.Errorf("%w: step %s: exactly one of command, if, notify is required", ErrInvalidStep, path))
		}
	}
	return errs
}

func validateCommand(path string, c *CommandStep) []error {
	var errs []error
	if c.Target == "" {
		errs = append(errs, fmt.Errorf("%w: step %s: target is required", ErrInvalidStep, path))
	}
	if c.IEEE == "" {
		errs = append(errs, fmt.Errorf("%w: step %s: ieee is required", ErrInvalidStep, path))
	}
	if !slices.Contains(device.ValidActions, c.Action) {
		errs = append(errs, fmt.Errorf("%w: step %s: unknown action %q", ErrInvalidStep, path, c.Action))
	}
	if c.When != nil {
		if err := validateCondition(path+".when", *c.When); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateCondition(path string, c Condition) error {
	var missing []string
	if c.Target == "" {
		missing = append(missing, "target")
	}
	if c.IEEE == "" {
		missing = append(missing, "ieee")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: %s required", ErrInvalidStep, path, strings.Join(missing, " and "))
	}
	if c.State != ExpectOn && c.State != ExpectOff {
		return fmt.Errorf("%w: %s: state must be %q or %q", ErrInvalidStep, path, ExpectOn, ExpectOff)
	}
	return nil
}

func countSteps(steps []Step) int {
	n := len(steps)
	for _, s := range steps {
		if s.If != nil {
			n += countSteps(s.If.Steps)
		}
	}
	return n
}
