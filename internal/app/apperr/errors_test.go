package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedKinds(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("hospital", "h1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "hospital h1")

	assert.ErrorIs(t, Invalid("bad month %q", "2024-13"), ErrInvalid)
	assert.ErrorIs(t, Forbidden("admin only"), ErrForbidden)
	assert.ErrorIs(t, Conflict("already submitted"), ErrConflict)
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	assert.NoError(t, v.OrNil())

	v.Add("water_m3", "required")
	v.Add("water_m3", "ignored")
	v.Add("gas_m3", "must be >= 0")

	err := v.OrNil()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, "validation failed: gas_m3: must be >= 0; water_m3: required", err.Error())

	var target *ValidationError
	assert.True(t, errors.As(fmt.Errorf("submit: %w", err), &target))
	assert.Equal(t, "required", target.Fields["water_m3"])
}
