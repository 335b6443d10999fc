package utils

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidations hooks the custom rules into gin's binding engine so
// DTO tags like binding:"isphone" work on every route.
func RegisterValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("isemail", IsValidEmail)
		v.RegisterValidation("isphone", IsValidPhone)
	}
}

func IsValidEmail(fl validator.FieldLevel) bool {
	email := strings.TrimSpace(fl.Field().String())
	_, err := mail.ParseAddress(email)
	return err == nil
}

// IsValidPhone accepts international numbers: an optional leading +,
// separators allowed, 10 to 15 digits total.
func IsValidPhone(fl validator.FieldLevel) bool {
	phone := strings.TrimSpace(fl.Field().String())
	phone = strings.TrimPrefix(phone, "+")

	digits := 0
	for _, char := range phone {
		switch {
		case unicode.IsDigit(char):
			digits++
		case char == ' ' || char == '-' || char == '(' || char == ')':
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}
