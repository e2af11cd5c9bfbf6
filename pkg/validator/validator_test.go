package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

func TestValidateCoordinates(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateCoordinates(12.9716, 77.5946))
	assert.NoError(t, v.ValidateCoordinates(-90, 180))
	assert.ErrorIs(t, v.ValidateCoordinates(91, 0), apperrors.ErrInvalidLatitude)
	assert.ErrorIs(t, v.ValidateCoordinates(0, -181), apperrors.ErrInvalidLongitude)
	assert.ErrorIs(t, v.ValidateCoordinates(math.NaN(), 0), apperrors.ErrInvalidCoordinates)
}

func TestValidateProfile(t *testing.T) {
	v := NewValidator()

	for _, p := range []string{"driving", "cycling", "walking"} {
		assert.NoError(t, v.ValidateProfile(p))
	}
	assert.ErrorIs(t, v.ValidateProfile("flying"), apperrors.ErrInvalidProfile)
}

func TestValidateAccuracy(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAccuracy(0))
	assert.Error(t, v.ValidateAccuracy(-1))
}
