package device

import "fmt"

// TransportError reports a failed HTTP exchange: connection failures,
// timeouts, or an error status from the controller's web server.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error via %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that could not be interpreted as a
// JSON object in either supported encoding.
type DecodeError struct {
	Path   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error via %s: %s", e.Path, e.Reason)
}

// DeviceError reports an error code returned by the controller itself: a
// decoded payload carrying a non-zero "Error" field and no values.
type DeviceError struct {
	Path string
	Code any
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("controller error via %s: %v", e.Path, e.Code)
}

// ConfigurationError reports invalid arguments to a client call, detected
// locally before any network traffic.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}
