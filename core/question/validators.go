package question

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

var (
	qTypeTag  = "qtype"
	qTypeText = "invalid question type"
)

func init() {
	_ = core.Validate.RegisterValidation(qTypeTag, qTypeValidation)
	core.RegisterCustomTranslation(qTypeTag, qTypeText)
}

// qTypeValidation checks that the value is a known question type.
func qTypeValidation(fl validator.FieldLevel) bool {
	typ := fl.Field().String()
	for _, t := range AllTypes {
		if typ == t {
			return true
		}
	}
	return false
}
