package core

// validation.go checks create-item requests and import rows before any
// storage work happens.
//
// Both paths collect every problem instead of stopping at the first, so a
// caller sees all field errors for a request or row at once.

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, err := itemcode.ParseCategory(fl.Field().String())
		return err == nil
	})
	return v
}

// fieldErrors converts validator output into ValidationErrors.
func fieldErrors(err error) []ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Value:   fmt.Sprint(fe.Value()),
			Message: describeTag(fe),
		})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "category":
		return "invalid category, must be one of: " + itemcode.CategoryNames()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

var minCreateRate = decimal.NewFromInt(1)

// Rates are stored as NUMERIC(14, 4) on postgres.
const (
	rateIntDigits = 10
	rateScale     = 4
)

var rateLimit = decimal.New(1, rateIntDigits)

// rateProblem reports why d does not fit the rate column, or "".
func rateProblem(d decimal.Decimal) string {
	if !d.Abs().LessThan(rateLimit) || !d.Equal(d.Round(rateScale)) {
		return fmt.Sprintf("must have at most %d digits before and %d after the decimal point", rateIntDigits, rateScale)
	}
	return ""
}

// ValidateCreateInput returns an *InputError listing every problem with in.
func ValidateCreateInput(in CreateItemInput) error {
	var errs []ValidationError
	if in.ProjectID == uuid.Nil {
		errs = append(errs, ValidationError{Field: "projectId", Message: "required field is empty"})
	}
	if err := validate.Struct(in); err != nil {
		errs = append(errs, fieldErrors(err)...)
	}
	if in.Rate != nil {
		if in.Rate.LessThan(minCreateRate) {
			errs = append(errs, ValidationError{Field: "rate", Value: in.Rate.String(), Message: "must be at least 1"})
		} else if msg := rateProblem(*in.Rate); msg != "" {
			errs = append(errs, ValidationError{Field: "rate", Value: in.Rate.String(), Message: msg})
		}
	}
	if in.ParentItemID != nil && *in.ParentItemID <= 0 {
		errs = append(errs, ValidationError{Field: "parentItemId", Message: "must be a positive id"})
	}
	if len(errs) > 0 {
		return &InputError{Fields: errs}
	}
	return nil
}

// importFields holds the text fields of a row for struct validation.
type importFields struct {
	Category string `json:"SubType" validate:"required,category"`
	Code     string `json:"Code" validate:"required"`
	Name     string `json:"Item Name" validate:"required"`
	Unit     string `json:"Unit" validate:"required"`
}

// validateImportRow turns a raw row into a candidate or the list of reasons
// it was rejected.
func validateImportRow(projectID uuid.UUID, row RawRow) (NewItem, []ValidationError) {
	f := importFields{
		Category: CleanCell(row.Category),
		Code:     CleanCell(row.Code),
		Name:     CleanCell(row.Name),
		Unit:     CleanCell(row.Unit),
	}

	var errs []ValidationError
	if err := validate.Struct(f); err != nil {
		errs = append(errs, fieldErrors(err)...)
	}

	cat, catErr := itemcode.ParseCategory(f.Category)
	if catErr == nil && f.Code != "" && !itemcode.IsValidCode(cat, f.Code) {
		errs = append(errs, ValidationError{
			Field:   "Code",
			Value:   f.Code,
			Message: fmt.Sprintf("invalid code for category %s", cat),
		})
	}

	rate, err := ParseDecimal(row.Rate)
	switch {
	case err != nil:
		errs = append(errs, ValidationError{Field: "Rate", Value: row.Rate, Message: "invalid number format"})
	case rate.Valid && rate.Decimal.IsNegative():
		errs = append(errs, ValidationError{Field: "Rate", Value: row.Rate, Message: "must not be negative"})
	case rate.Valid && rateProblem(rate.Decimal) != "":
		errs = append(errs, ValidationError{Field: "Rate", Value: row.Rate, Message: rateProblem(rate.Decimal)})
	}

	lead, err := ParseNumber(row.AvgLeadTime)
	switch {
	case err != nil:
		errs = append(errs, ValidationError{Field: "Avg. Lead Time", Value: row.AvgLeadTime, Message: "invalid number format"})
	case lead < 0:
		errs = append(errs, ValidationError{Field: "Avg. Lead Time", Value: row.AvgLeadTime, Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return NewItem{}, errs
	}
	return NewItem{
		ProjectID:   projectID,
		Category:    cat,
		Code:        f.Code,
		Name:        f.Name,
		Unit:        f.Unit,
		Rate:        rate,
		AvgLeadTime: lead,
	}, nil
}

// joinMessages renders field errors as one reason string.
func joinMessages(errs []ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		if e.Field != "" {
			parts[i] = e.Field + ": " + e.Message
		} else {
			parts[i] = e.Message
		}
	}
	return strings.Join(parts, "; ")
}
