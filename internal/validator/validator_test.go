package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

func intPtr(v int) *int { return &v }

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *models.GenerateRequest
		code string
	}{
		{"nil request", nil, CodeMissingPrompt},
		{"missing prompt", &models.GenerateRequest{}, CodeMissingPrompt},
		{"number prompt", &models.GenerateRequest{Prompt: float64(3)}, CodeInvalidPromptType},
		{"empty prompt", &models.GenerateRequest{Prompt: ""}, CodePromptTooShort},
		{"too long", &models.GenerateRequest{Prompt: strings.Repeat("x", MaxPromptLength+1)}, CodePromptTooLong},
		{"bad timeout", &models.GenerateRequest{Prompt: "hi", TimeoutMS: intPtr(0)}, CodeInvalidTimeout},
		{"ok", &models.GenerateRequest{Prompt: "hello"}, ""},
		{"ok at limit", &models.GenerateRequest{Prompt: strings.Repeat("é", MaxPromptLength)}, ""},
		{"ok with timeout", &models.GenerateRequest{Prompt: "hello", TimeoutMS: intPtr(500)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			ve, ok := AsValidationError(err)
			require.True(t, ok, "expected ValidationError, got %v", err)
			assert.Equal(t, tt.code, ve.Code)
			assert.NotEmpty(t, ve.Message)
		})
	}
}

func TestValidateRoute(t *testing.T) {
	routes := models.RouteTable{
		Default: models.RouteAuto,
		Fast:    models.ModelInfo{Route: "a", Name: "gemma3:1b"},
		Slow:    models.ModelInfo{Route: "b", Name: "llama3.2:3b"},
	}

	r, err := ValidateRoute("A", routes)
	require.NoError(t, err)
	assert.Equal(t, models.RouteFast, r)

	r, err = ValidateRoute("auto", routes)
	require.NoError(t, err)
	assert.Equal(t, models.RouteAuto, r)

	_, err = ValidateRoute("c", routes)
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidRoute, ve.Code)
	assert.Equal(t, "Invalid route. Must be one of: a, b, auto", ve.Message)
}
