// Package validator wraps go-playground/validator with english error messages.
// Field names in messages are taken from the "configKey" or "json" tag, if present.
package validator

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func New() *Validator {
	validate := validator.New()

	// Register default EN translator
	enLocale := en.New()
	translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		panic(errors.New("en translator was not found"))
	}
	if err := enTranslation.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(errors.Wrap(err, "translator was not registered"))
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"configKey", "json"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	return &Validator{validate: validate, translator: translator}
}

// Validate a struct, the error contains one line for each invalid field.
func (v *Validator) Validate(ctx context.Context, value any) error {
	return v.ValidateCtx(ctx, value, "")
}

// ValidateCtx is the same as Validate, but field names are prefixed by the namespace.
func (v *Validator) ValidateCtx(ctx context.Context, value any, namespace string) error {
	err := v.validate.StructCtx(ctx, value)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	errs := errors.NewMultiError()
	for _, e := range validationErrs {
		field := fieldPath(e.Namespace())
		if namespace != "" {
			field = namespace + "." + field
		}
		msg := strings.TrimSpace(strings.TrimPrefix(e.Translate(v.translator), e.Field()))
		errs.Append(errors.New(fmt.Sprintf(`"%s" %s`, field, msg)))
	}
	return errs.ErrorOrNil()
}

// fieldPath removes the struct name, the first part of the namespace.
func fieldPath(namespace string) string {
	if _, after, found := strings.Cut(namespace, "."); found {
		return after
	}
	return namespace
}
