package correction

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/corrector/internal/model"
)

const (
	notBlankTag = "notblank"
	answeredTag = "answered"
)

// newValidator builds the validator used for exams at enqueue time.
func newValidator() (*validator.Validate, error) {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation(notBlankTag, notBlankValidation); err != nil {
		return nil, fmt.Errorf("register %s: %w", notBlankTag, err)
	}
	v.RegisterStructValidation(examItemStructValidation, model.ExamItem{})
	return v, nil
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// examItemStructValidation requires an answer for every open-ended item.
func examItemStructValidation(sl validator.StructLevel) {
	if it, ok := sl.Current().Interface().(model.ExamItem); ok {
		if it.Question.OpenEnded() && strings.TrimSpace(it.Response) == "" {
			sl.ReportError(it.Response, "response", "Response", answeredTag, "")
		}
	}
}

// describeValidation turns validator output into a one-line message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		switch fe.Tag() {
		case answeredTag:
			parts = append(parts, ns+": open-ended question has no answer")
		case notBlankTag:
			parts = append(parts, ns+": must not be blank")
		case "gt":
			parts = append(parts, fmt.Sprintf("%s: must be greater than %s", ns, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s", ns, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
