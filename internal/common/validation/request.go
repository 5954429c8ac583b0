// internal/common/validation/request.go
package validation

import (
	"fmt"

	"push-dispatch/internal/models"
)

const (
	maxTitleLength = 200
	maxBodyLength  = 2000
	maxActions     = 4
	maxTTL         = 2419200 // push services cap TTL at 28 days
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateNotifyRequest checks a notification request against the shape
// the client contract allows.
func ValidateNotifyRequest(req *models.NotificationRequest) *ValidationResult {
	errs := []ValidationError{}

	if req.Title == "" {
		errs = append(errs, ValidationError{
			Field:   "title",
			Message: "required field missing",
			Code:    "REQUIRED_FIELD_MISSING",
		})
	}
	if len(req.Title) > maxTitleLength {
		errs = append(errs, ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("exceeds maximum length of %d", maxTitleLength),
			Code:    "MAX_LENGTH_EXCEEDED",
		})
	}
	if len(req.Body) > maxBodyLength {
		errs = append(errs, ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("exceeds maximum length of %d", maxBodyLength),
			Code:    "MAX_LENGTH_EXCEEDED",
		})
	}
	if req.TTL < 0 || req.TTL > maxTTL {
		errs = append(errs, ValidationError{
			Field:   "ttl",
			Message: fmt.Sprintf("must be between 0 and %d", maxTTL),
			Code:    "OUT_OF_RANGE",
		})
	}
	if len(req.Actions) > maxActions {
		errs = append(errs, ValidationError{
			Field:   "actions",
			Message: fmt.Sprintf("at most %d actions allowed", maxActions),
			Code:    "MAX_ITEMS_EXCEEDED",
		})
	}
	for i, action := range req.Actions {
		if action.Action == "" || action.Title == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("actions[%d]", i),
				Message: "action and title are required",
				Code:    "REQUIRED_FIELD_MISSING",
			})
		}
	}

	return &ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

// FirstError renders the first validation error as a short string for
// error details.
func (r *ValidationResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Errors[0].Field, r.Errors[0].Message)
}
