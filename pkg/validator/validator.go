package validator

import (
	"math"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

type Validator interface {
	ValidateCoordinates(lat, lon float64) error
	ValidateAccuracy(accuracy float64) error
	ValidateProfile(profile string) error
}

type validator struct {
	profiles map[string]struct{}
}

func NewValidator() Validator {
	return &validator{
		profiles: map[string]struct{}{
			"driving": {},
			"cycling": {},
			"walking": {},
		},
	}
}

func (v *validator) ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return apperrors.ErrInvalidCoordinates
	}

	if lat < -90 || lat > 90 {
		return apperrors.ErrInvalidLatitude
	}

	if lon < -180 || lon > 180 {
		return apperrors.ErrInvalidLongitude
	}

	return nil
}

func (v *validator) ValidateAccuracy(accuracy float64) error {
	if math.IsNaN(accuracy) || accuracy < 0 {
		return apperrors.ErrInvalidCoordinates
	}
	return nil
}

func (v *validator) ValidateProfile(profile string) error {
	if _, ok := v.profiles[profile]; !ok {
		return apperrors.ErrInvalidProfile
	}
	return nil
}
