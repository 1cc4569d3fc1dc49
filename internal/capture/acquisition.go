package capture

import "fmt"

// Cause classifies why the microphone could not be acquired.
type Cause string

const (
	CausePermissionDenied       Cause = "permission-denied"
	CauseNoDevice               Cause = "no-device"
	CauseDeviceBusy             Cause = "device-busy"
	CauseUnsupportedConstraints Cause = "unsupported-constraints"
	CauseBrowserUnsupported     Cause = "browser-unsupported"
	CauseAborted                Cause = "aborted"
	CauseUnknown                Cause = "unknown"
)

// AcquisitionError is returned by Start when the microphone could not be opened. It is never retried.
type AcquisitionError struct {
	Cause   Cause  `json:"cause"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("microphone %s: %s", e.Cause, e.Message)
}

// ClassifyAcquisition maps a getUserMedia error name to a Cause with a user-facing message.
func ClassifyAcquisition(name, detail string) *AcquisitionError {
	cause := causeFor(name)
	msg := causeMessages[cause]
	if cause == CauseUnknown && detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail)
	}
	return &AcquisitionError{Cause: cause, Name: name, Message: msg}
}

func causeFor(name string) Cause {
	switch name {
	case "NotAllowedError", "SecurityError", "PermissionDeniedError":
		return CausePermissionDenied
	case "NotFoundError", "DevicesNotFoundError":
		return CauseNoDevice
	case "NotReadableError", "TrackStartError":
		return CauseDeviceBusy
	case "OverconstrainedError", "ConstraintNotSatisfiedError":
		return CauseUnsupportedConstraints
	case "NotSupportedError", "TypeError":
		return CauseBrowserUnsupported
	case "AbortError":
		return CauseAborted
	default:
		return CauseUnknown
	}
}

var causeMessages = map[Cause]string{
	CausePermissionDenied:       "Microphone access was denied. Allow microphone access in your browser settings and try again.",
	CauseNoDevice:               "No microphone was found. Connect a microphone and try again.",
	CauseDeviceBusy:             "The microphone is already in use by another application.",
	CauseUnsupportedConstraints: "The microphone does not support the requested recording quality. Try a lower quality preset.",
	CauseBrowserUnsupported:     "This browser does not support audio recording.",
	CauseAborted:                "Microphone access was interrupted before recording could start.",
	CauseUnknown:                "The microphone could not be started.",
}
