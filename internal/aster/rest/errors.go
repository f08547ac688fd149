package rest

import "fmt"

// RequestFailed covers transport errors, non-2xx replies and undecodable bodies.
// Exchange error codes are carried in Cause as *APIError and are not interpreted here.
type RequestFailed struct {
	Endpoint string
	Status   int
	Cause    error
}

func (e *RequestFailed) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request %s failed (http %d): %v", e.Endpoint, e.Status, e.Cause)
	}
	return fmt.Sprintf("request %s failed: %v", e.Endpoint, e.Cause)
}

func (e *RequestFailed) Unwrap() error {
	return e.Cause
}

// APIError is the exchange's {"code":…,"msg":…} payload. Clock skew and bad
// signatures arrive this way (e.g. -1021, -1022).
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Msg)
}
