package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid provider")

var validate = validator.New()

// Validate checks the variant rules: exactly one variant set, matching Kind,
// and the variant's own required fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return invalid(err)
	}

	switch c.Kind {
	case KindCluster:
		if c.Cluster == nil {
			return fmt.Errorf("%w: kind %q requires cluster config", ErrInvalid, c.Kind)
		}
		if c.StateBackend != nil {
			return fmt.Errorf("%w: kind %q must not carry state_backend config", ErrInvalid, c.Kind)
		}
	case KindStateBackend:
		if c.StateBackend == nil {
			return fmt.Errorf("%w: kind %q requires state_backend config", ErrInvalid, c.Kind)
		}
		if c.Cluster != nil {
			return fmt.Errorf("%w: kind %q must not carry cluster config", ErrInvalid, c.Kind)
		}
	}
	return nil
}

// Validate checks the provider record and its config.
func (p *Provider) Validate() error {
	if err := validate.Struct(p); err != nil {
		return invalid(err)
	}
	return p.Config.Validate()
}

// invalid flattens validator errors into one readable message.
func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Namespace())
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
