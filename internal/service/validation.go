package service

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	courseCodeRe = regexp.MustCompile(`^[A-Z]{2,4}[0-9]{3,4}$`)
	clockTimeRe  = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
)

// NewValidator returns a validator with the domain rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	// report failures under the wire names clients actually sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("course_code", func(fl validator.FieldLevel) bool {
		return courseCodeRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("clock_time", func(fl validator.FieldLevel) bool {
		return clockTimeRe.MatchString(fl.Field().String())
	})
	return v
}
