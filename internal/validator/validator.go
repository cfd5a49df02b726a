package validator

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// validate is the singleton validator instance shared by config and input checks.
	validate *govalidator.Validate
	// trans is the singleton English translator for validation errors.
	trans ut.Translator
	once  sync.Once
)

// Setup builds the validator with English translations.
// Safe to call more than once; only the first call does any work.
func Setup() {
	once.Do(func() {
		validate = govalidator.New(govalidator.WithRequiredStructEnabled())

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		en_translations.RegisterDefaultTranslations(validate, trans)
	})
}

// Struct validates a struct using its `validate` tags.
func Struct(v interface{}) error {
	Setup()
	return validate.Struct(v)
}

// Var validates a single value against a tag, e.g. Var(n, "min=1,max=7").
func Var(v interface{}, tag string) error {
	Setup()
	return validate.Var(v, tag)
}

// TranslateErrors takes a validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	Setup()
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Message flattens a validation error into one line, for single-value checks
// where the field name is empty.
func Message(err error) string {
	for _, msg := range TranslateErrors(err) {
		return strings.TrimSpace(msg)
	}
	return err.Error()
}
