package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/celestialseal/server/pkg/apierror"
)

// bcrypt ignores input past this many bytes
const maxPasswordBytes = 72

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names so details match the request body
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return len(passwordProblems(fl.Field().String())) == 0
	}); err != nil {
		panic(err)
	}
	return v
}

type registerRequest struct {
	Username string `json:"username" validate:"min=4,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6,password"`
}

func (r *registerRequest) normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r registerRequest) validate() error {
	return validationError(validate.Struct(r))
}

// passwordProblems lists the composition rules p breaks; length minimum is a tag
func passwordProblems(p string) []string {
	var problems []string
	if len(p) > maxPasswordBytes {
		problems = append(problems, fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}

	var upper, digit, special bool
	for _, c := range p {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		case !unicode.IsLetter(c) && !unicode.IsSpace(c):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "password must contain an uppercase letter")
	}
	if !digit {
		problems = append(problems, "password must contain a digit")
	}
	if !special {
		problems = append(problems, "password must contain a special character")
	}
	return problems
}

// validationError turns validator output into a BAD_REQUEST with one detail per broken rule
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierror.BadRequest("Validation failed")
	}

	var problems []string
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe)...)
	}
	e := apierror.BadRequest("Validation failed")
	e.Details = strings.Join(problems, "; ")
	return e
}

func describe(fe validator.FieldError) []string {
	switch fe.Tag() {
	case "required":
		return []string{fe.Field() + " is required"}
	case "email":
		return []string{"email must be a valid email address"}
	case "password":
		return passwordProblems(fe.Value().(string))
	case "min", "max":
		if fe.Field() == "username" {
			return []string{"username must be between 4 and 32 characters"}
		}
		return []string{fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())}
	}
	return []string{fe.Field() + " is invalid"}
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp,omitempty"`
}

func (r credentialsRequest) validate(requireOTP bool) error {
	r.Username = strings.TrimSpace(r.Username)
	if err := validate.Struct(r); err != nil {
		return apierror.BadRequest("username and password are required")
	}
	if requireOTP && strings.TrimSpace(r.OTP) == "" {
		return apierror.BadRequest("otp is required")
	}
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
