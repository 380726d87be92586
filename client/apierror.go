package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// genericErrorMessage is used when the backend's error payload carries none of
// the known fields. Users never see raw backend internals.
const genericErrorMessage = "something went wrong, please try again"

// APIError is a non-2xx response from the portal backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal api: %s (status %d)", e.Message, e.StatusCode)
}

// decodeAPIError pulls a human-readable message out of a backend error
// payload. The backend is inconsistent about the field name (error, detail or
// message depending on the endpoint), so all three are tried before degrading
// to a generic string.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Message:    genericErrorMessage,
	}

	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}

	for _, candidate := range []string{payload.Error, payload.Detail, payload.Message} {
		if strings.TrimSpace(candidate) != "" {
			apiErr.Message = candidate
			break
		}
	}
	return apiErr
}
