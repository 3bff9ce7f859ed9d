package errors

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

const (
	// ErrorCommandSpecific is reserved for command specific indications
	ErrorCommandSpecific = 1
	// ErrorConnectionFailure is returned on connection failure to the API server or the message bus
	ErrorConnectionFailure = 11
	// ErrorAPIResponse is returned on unexpected API response, i.e. authorization failure
	ErrorAPIResponse = 12
	// ErrorResourceDoesNotExist is returned when the requested resource does not exist
	ErrorResourceDoesNotExist = 13
	// ErrorGeneric is returned for generic error
	ErrorGeneric = 20
)

// Error classes reported by Classify
const (
	ClassNone      = "success"
	ClassConflict  = "conflict"
	ClassTransient = "transient"
	ClassNotFound  = "not_found"
	ClassOther     = "error"
)

var exit = os.Exit

// CheckError logs a fatal message and exits with ErrorGeneric if err is not nil
func CheckError(err error, log logr.Logger) {
	if err != nil {
		Fatal(log, ErrorGeneric, "error", err)
	}
}

// CheckErrorWithCode is a convenience function to exit with the given code if an error is non-nil
func CheckErrorWithCode(err error, exitcode int, log logr.Logger) {
	if err != nil {
		Fatal(log, exitcode, "error", err)
	}
}

// Fatal is a helper to exit with custom code.
func Fatal(log logr.Logger, exitcode int, keysAndValues ...any) {
	log.Error(fmt.Errorf("exit code %d", exitcode), "Fatal error", keysAndValues...)
	exit(exitcode)
}

// Classify buckets a control plane error for logging and metrics
func Classify(err error) string {
	switch {
	case err == nil:
		return ClassNone
	case apierrors.IsConflict(err):
		return ClassConflict
	case apierrors.IsNotFound(err):
		return ClassNotFound
	case apierrors.IsServerTimeout(err), apierrors.IsTimeout(err), apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err), apierrors.IsInternalError(err):
		return ClassTransient
	default:
		return ClassOther
	}
}
