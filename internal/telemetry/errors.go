package telemetry

import "codeberg.org/mutker/domwatch/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")

	// Transport Errors
	ErrConnectivity = errors.ErrorCode("telemetry_connectivity_failed")

	// Response Errors
	ErrCommandRejected   = errors.ErrorCode("telemetry_command_rejected")
	ErrMalformedResponse = errors.ErrorCode("telemetry_malformed_response")
)

// JSON-RPC error code returned by eAPI for an invalid command.
const invalidCommandCode = 1002

// IsConnectivity reports whether err means the device could not be reached
// or refused the request.
func IsConnectivity(err error) bool {
	return errors.HasCode(err, ErrConnectivity)
}

// ConnectivityFailure is the payload attached to ErrConnectivity errors.
type ConnectivityFailure struct {
	Reason string
	Cause  string
}

func (f ConnectivityFailure) String() string {
	if f.Cause == "" {
		return f.Reason
	}
	return f.Reason + " (" + f.Cause + ")"
}

// UnexpectedResponse reports a reply the client cannot interpret. It counts
// as a connectivity failure and keeps ErrMalformedResponse in its chain.
func UnexpectedResponse(detail string) errors.Error {
	errFactory := errors.New()
	return errFactory.Wrap(ErrConnectivity, errFactory.WithData(ErrMalformedResponse, detail)).
		WithData(ConnectivityFailure{Reason: "unexpected response from device", Cause: detail})
}
