package api

import "net/http"

// RequestError is the JSON error shape returned by non-media endpoints.
type RequestError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e RequestError) Error() string {
	return e.Message
}

// ValidationError builds a 400 RequestError.
func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, Message: message}
}

// ServiceUnavailableError builds a 503 RequestError.
func ServiceUnavailableError(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, Message: message}
}
