// Package validation checks agent packs and review requests before they
// are stored, and detects cycles in hierarchical context data.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
)

// Validator wraps a configured go-playground validator.
type Validator struct {
	v *validator.Validate
}

// New registers the toolkind and provider tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("toolkind", func(fl validator.FieldLevel) bool {
		return models.ToolKind(fl.Field().String()).IsKnown()
	})
	_ = v.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := models.ParseProvider(s)
		return err == nil
	})
	return &Validator{v: v}
}

// Struct validates s and converts failures into a Validation error.
func (val *Validator) Struct(s interface{}) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("invalid input", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperrors.Validation(strings.Join(msgs, "; "), nil).WithDetail("fields", msgs)
}

// ValidatePack checks a pack before it is saved: at least one agent,
// unique names, known tool kinds and a supported provider. Stored packs
// with retired tools still run; the executor skips unknown tools.
func (val *Validator) ValidatePack(p *models.AgentPack) error {
	if p == nil {
		return apperrors.Validation("pack is required", nil)
	}
	return val.Struct(p)
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s must have unique %s values", field, fe.Param())
	case "toolkind":
		return fmt.Sprintf("%s: unknown tool %q", field, fe.Value())
	case "provider":
		return fmt.Sprintf("%s: unknown LLM provider %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
