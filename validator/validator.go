package validator

import (
	"sort"
	"strings"

	"github.com/firgia/soca/errs"
)

// Validator collects input errors per field. As an error it is
// always of kind invalid_argument.
type Validator struct {
	Errors map[string][]string `json:"errors"`
}

func New() *Validator {
	return &Validator{
		Errors: map[string][]string{},
	}
}

func (v *Validator) AddError(field, message string) {
	if v.Errors == nil {
		v.Errors = make(map[string][]string)
	}
	v.Errors[field] = append(v.Errors[field], message)
}

// Check adds the message to field when ok is false.
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.AddError(field, message)
	}
}

func (v *Validator) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *Validator) First(field string) string {
	if messages, exists := v.Errors[field]; exists && len(messages) != 0 {
		return messages[0]
	}
	return ""
}

func (v *Validator) All(field string) []string {
	if messages, exists := v.Errors[field]; exists && len(messages) != 0 {
		return messages
	}
	return nil
}

func (v *Validator) fields() []string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (v *Validator) Error() string {
	if !v.HasErrors() {
		return ""
	}

	var b strings.Builder
	for _, field := range v.fields() {
		b.WriteString(field + ": \n")
		for _, msg := range v.Errors[field] {
			b.WriteString("\t- " + msg + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func (v *Validator) ErrorKind() errs.Kind {
	return errs.KindInvalidArgument
}

func (v *Validator) AsError() error {
	if v.HasErrors() {
		return v
	}
	return nil
}
