package radiopharm

import "errors"

// Validation failures raised by the engine. Callers match them with
// errors.Is; the returned errors wrap them with the offending value.
var (
	ErrUnknownIsotope           = errors.New("unknown isotope")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvalidActivity          = errors.New("invalid activity")
	ErrInvalidThreshold         = errors.New("invalid threshold")
	ErrInvalidPatientParameters = errors.New("invalid patient parameters")
	ErrUnsupportedTest          = errors.New("unsupported quality control test")
	ErrUnknownUnit              = errors.New("unknown activity unit")
)

// IsInputError reports whether err was caused by invalid caller input
// rather than by the environment.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrUnknownIsotope, ErrInvalidInput, ErrInvalidActivity, ErrInvalidThreshold,
		ErrInvalidPatientParameters, ErrUnsupportedTest, ErrUnknownUnit,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
