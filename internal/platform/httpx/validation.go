package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// NonFieldErrors collects messages that are not tied to a single field.
const NonFieldErrors = "non_field_errors"

// ValidationErrors flattens err into field -> messages. Validator errors are
// keyed by snake_cased field name; anything else lands under non_field_errors.
func ValidationErrors(err error) map[string][]string {
	out := make(map[string][]string)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			key := snakeCase(fe.Field())
			out[key] = append(out[key], validationMessage(fe))
		}
		return out
	}
	out[NonFieldErrors] = []string{err.Error()}
	return out
}

// FirstErrors keeps one message per field, for form rendering.
func FirstErrors(err error) map[string]string {
	fields := ValidationErrors(err)
	out := make(map[string]string, len(fields))
	for k, msgs := range fields {
		if len(msgs) > 0 {
			out[k] = msgs[0]
		}
	}
	return out
}

// RespondValidation writes a 400 JSON body carrying per-field messages.
func RespondValidation(w http.ResponseWriter, err error) {
	JSON(w, http.StatusBadRequest, ValidationBody{
		ErrorBody: NewErrorBody(http.StatusBadRequest, "Validation failed."),
		Fields:    ValidationErrors(err),
	})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	default:
		return "Enter a valid value."
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
