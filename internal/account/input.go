package account

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/account-admin/internal/model"
)

// CreateInput is the payload of CreateAccount.  FirstName and LastName
// only apply to roles that own a profile.
type CreateInput struct {
	Email        string     `json:"email" validate:"required,email,max=255"`
	Password     string     `json:"password" validate:"required,min=6,max=128"`
	Username     string     `json:"username" validate:"required,min=3,max=64"`
	Role         model.Role `json:"role" validate:"required,oneof=customer seller admin super_admin"`
	MobileNumber *string    `json:"mobile_number" validate:"omitempty,max=32"`
	FirstName    *string    `json:"first_name" validate:"omitempty,max=100"`
	LastName     *string    `json:"last_name" validate:"omitempty,max=100"`
}

// Patch is a partial update.  Nil fields are left unchanged.  An empty
// MobileNumber clears it.
type Patch struct {
	Username     *string     `json:"username" validate:"omitempty,min=3,max=64"`
	Email        *string     `json:"email" validate:"omitempty,email,max=255"`
	Password     *string     `json:"password" validate:"omitempty,min=6,max=128"`
	Role         *model.Role `json:"role" validate:"omitempty,oneof=customer seller admin super_admin"`
	MobileNumber *string     `json:"mobile_number" validate:"omitempty,max=32"`
	FirstName    *string     `json:"first_name" validate:"omitempty,max=100"`
	LastName     *string     `json:"last_name" validate:"omitempty,max=100"`
}

// Empty reports whether the patch names no field at all.
func (p Patch) Empty() bool {
	return p.Username == nil && p.Email == nil && p.Password == nil && p.Role == nil &&
		p.MobileNumber == nil && p.FirstName == nil && p.LastName == nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (in *CreateInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.Role = model.Role(strings.TrimSpace(string(in.Role)))
	trimPtr(in.MobileNumber)
	trimPtr(in.FirstName)
	trimPtr(in.LastName)
}

func (p *Patch) normalize() {
	if p.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*p.Email))
		p.Email = &e
	}
	trimPtr(p.Username)
	trimPtr(p.MobileNumber)
	trimPtr(p.FirstName)
	trimPtr(p.LastName)
}

// checkUsername rejects what the tags cannot express.
func checkUsername(u string) error {
	if strings.ContainsAny(u, " \t\r\n") {
		return validationErr("username must not contain whitespace")
	}
	return nil
}

func trimPtr(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}

// validate runs struct validation and turns the first failing field into
// a ValidationError.
func (c *Coordinator) validate(v any) error {
	err := c.validator.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return validationErr(fieldMessage(fe))
	}
	return validationErr(err.Error())
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
