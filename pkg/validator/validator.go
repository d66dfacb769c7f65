package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// Validator checks struct tags (`validate:"..."`) on decoded payloads.
type Validator interface {
	Validate(interface{}) error
}

// FieldError names the offending field by its json name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var messages = map[string]string{
	"required": "is required",
	"uuid":     "must be a valid uuid",
	"oneof":    "must be one of [%s]",
	"min":      "must be at least %s",
	"max":      "must be at most %s",
	"email":    "must be a valid email",
}

type validator struct {
	engine *playground.Validate
}

func New() Validator {
	engine := playground.New()
	engine.RegisterTagNameFunc(JSONTagName)
	return &validator{engine: engine}
}

// JSONTagName reports fields by their json name. It is also registered on
// gin's binding engine so query and body errors read the same.
func JSONTagName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

func (v *validator) Validate(obj interface{}) error {
	err := v.engine.Struct(obj)
	if err == nil {
		return nil
	}
	return Translate(err)
}

// Translate converts validator/v10 errors into Errors. Other errors are
// returned as they are.
func Translate(err error) error {
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "failed " + fe.Tag() + " check"
		} else if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}
