package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := NotFound("brief", "42")
	assert.Equal(t, "brief not found: 42", err.Error())

	wrapped := ExternalService("perplexity", errors.New("status 500"))
	assert.Equal(t, "perplexity request failed: status 500", wrapped.Error())
}

func TestIsByKind(t *testing.T) {
	err := fmt.Errorf("load run: %w", NotFound("run", "x"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))

	llmErr := LLM("openai", errors.New("boom"))
	assert.True(t, errors.Is(llmErr, ErrLLM))
	assert.True(t, errors.Is(llmErr, ErrExternalService), "LLM errors are external service errors")
	assert.False(t, errors.Is(ExternalService("x", nil), ErrLLM))
}

func TestKindOfAndStatus(t *testing.T) {
	assert.Equal(t, KindWorkflow, KindOf(errors.New("plain")))
	assert.Equal(t, KindStorage, KindOf(fmt.Errorf("upload: %w", Storage("upload failed", nil))))

	assert.Equal(t, http.StatusNotFound, NotFound("run", "1").HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, Validation("bad", nil).HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, LLM("gemini", nil).HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Storage("down", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Workflow("oops", nil).HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict("run is completed").HTTPStatus())
	assert.True(t, errors.Is(fmt.Errorf("claim: %w", Conflict("x")), ErrConflict))
}

func TestUnwrap(t *testing.T) {
	root := errors.New("root cause")
	err := Workflow("step failed", root).WithDetail("agent", "Writer")
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "Writer", err.Details["agent"])
}
