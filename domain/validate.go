package domain

import (
	"errors"
	"math"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

func positive(value interface{}) error {
	f, _ := value.(float64)
	if !(f > 0) || math.IsInf(f, 0) {
		return errors.New("must be greater than zero")
	}
	return nil
}

func nonNegative(value interface{}) error {
	f, _ := value.(float64)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return errors.New("must be zero or greater")
	}
	return nil
}

func validationError(what string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(ErrCodeValidation, what+" validation failed", err)
}

// Validate checks a product before it is written.
func (p Product) Validate() error {
	return validationError("product", validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Description, validation.Length(0, 2000)),
		validation.Field(&p.Price, validation.By(nonNegative)),
	))
}

func (r LogisticsRequest) Validate() error {
	return validationError("logistics request", validation.ValidateStruct(&r,
		validation.Field(&r.FarmerID, validation.Required),
		validation.Field(&r.Pickup, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Destination, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Notes, validation.Length(0, 2000)),
	))
}

func (r LoanRequest) Validate() error {
	return validationError("loan request", validation.ValidateStruct(&r,
		validation.Field(&r.FarmerID, validation.Required),
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.Purpose, validation.Required, validation.Length(1, 1000)),
	))
}

// Registration is the sign-up input.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (r Registration) Validate() error {
	return validationError("registration", validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Role, validation.Required, validation.In(RoleFarmer, RoleBuyer)),
	))
}

// ValidateDocument decodes and validates a document according to its kind.
func ValidateDocument(doc Document) error {
	switch doc.Kind {
	case KindProduct:
		p, err := doc.Product()
		if err != nil {
			return err
		}
		return p.Validate()
	case KindLogistics:
		r, err := doc.LogisticsRequest()
		if err != nil {
			return err
		}
		return r.Validate()
	case KindLoan:
		r, err := doc.LoanRequest()
		if err != nil {
			return err
		}
		return r.Validate()
	default:
		return WrapError(ErrCodeValidation, "unknown collection "+string(doc.Kind), nil)
	}
}
