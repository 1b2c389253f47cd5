package errors

import "errors"

var (
	ErrMissingRequiredFile   = errors.New("required file missing from checkout")
	ErrCommandFailed         = errors.New("command failed")
	ErrImportFailed          = errors.New("python module import failed")
	ErrInstanceIDUnavailable = errors.New("instance id unavailable from metadata service")
	ErrInvalidPlan           = errors.New("invalid provisioning plan")
	ErrLauncherInvalid       = errors.New("generated launcher is not a valid shell script")
	ErrRecordNotFound        = errors.New("run record not found")
)
