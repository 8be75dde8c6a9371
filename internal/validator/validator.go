// Package validator checks incoming generation requests before any backend is contacted.
package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

const (
	MinPromptLength = 1
	MaxPromptLength = 10000
)

// Machine-readable validation codes
const (
	CodeMissingPrompt     = "MISSING_PROMPT"
	CodeInvalidPromptType = "INVALID_PROMPT_TYPE"
	CodePromptTooShort    = "PROMPT_TOO_SHORT"
	CodePromptTooLong     = "PROMPT_TOO_LONG"
	CodeInvalidTimeout    = "INVALID_TIMEOUT"
	CodeInvalidRoute      = "INVALID_ROUTE"
)

// ValidationError is returned for a request that must not reach a backend
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AsValidationError extracts a *ValidationError from err
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

type promptInput struct {
	Prompt    string `validate:"min=1,max=10000"`
	TimeoutMS *int   `validate:"omitnil,gt=0"`
}

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest checks the prompt (and timeout override, if any)
func ValidateRequest(req *models.GenerateRequest) error {
	if req == nil || req.Prompt == nil {
		return &ValidationError{Code: CodeMissingPrompt, Message: "Prompt is required"}
	}
	prompt, ok := req.Prompt.(string)
	if !ok {
		return &ValidationError{Code: CodeInvalidPromptType, Message: "Prompt must be a string"}
	}

	err := instance().Struct(promptInput{Prompt: prompt, TimeoutMS: req.TimeoutMS})
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Code: CodeInvalidPromptType, Message: err.Error()}
	}

	fe := fieldErrs[0]
	switch {
	case fe.Field() == "TimeoutMS":
		return &ValidationError{Code: CodeInvalidTimeout, Message: "timeout_ms must be a positive number"}
	case fe.Tag() == "min":
		return &ValidationError{
			Code:    CodePromptTooShort,
			Message: fmt.Sprintf("Prompt must be at least %d character(s)", MinPromptLength),
		}
	case fe.Tag() == "max":
		return &ValidationError{
			Code:    CodePromptTooLong,
			Message: fmt.Sprintf("Prompt too long (max %d characters)", MaxPromptLength),
		}
	}
	return &ValidationError{Code: CodeInvalidPromptType, Message: fe.Error()}
}

// ValidateRoute resolves a path route key against the configured table
func ValidateRoute(key string, routes models.RouteTable) (models.Route, error) {
	route, err := routes.Parse(key)
	if err != nil {
		return "", &ValidationError{
			Code:    CodeInvalidRoute,
			Message: "Invalid route. Must be one of: " + strings.Join(routes.Keys(), ", "),
		}
	}
	return route, nil
}
