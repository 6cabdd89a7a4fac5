package wabridge

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusForError(NewValidationError("bad input")))
	assert.Equal(t, http.StatusNotFound, StatusForError(NewNotFoundError("no such channel")))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(NewConfigurationError("no connection string")))
	assert.Equal(t, http.StatusBadGateway, StatusForError(NewProviderError("rejected")))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(fmt.Errorf("boom")))

	// classification survives wrapping
	wrapped := errors.Wrap(NewProviderError("rejected"), "error sending template")
	assert.Equal(t, http.StatusBadGateway, StatusForError(wrapped))
	assert.Contains(t, wrapped.Error(), "rejected")
}
