package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoCredential is returned when no bearer credential is available.
// It is fatal for the call: no network attempt is made and no retry.
var ErrNoCredential = errors.New("no bearer credential available")

// ClientError is a terminal request failure: a 4xx class status or a
// known domain-terminal message. Never retried.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// TransientError is a retryable failure: 5xx responses and network
// errors. Surfaced once the retry budget is exhausted.
type TransientError struct {
	Status  int
	Message string
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

var terminalStatuses = map[int]struct{}{
	http.StatusBadRequest:   {},
	http.StatusUnauthorized: {},
	http.StatusForbidden:    {},
	http.StatusNotFound:     {},
	http.StatusConflict:     {},
}

// Domain-terminal message fragments that retrying cannot fix.
var terminalMessages = []string{
	"not found",
	"already exists",
	"budget",
	"agent is",
}

func isTerminalStatus(status int) bool {
	_, ok := terminalStatuses[status]
	return ok
}

func isTerminalMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, frag := range terminalMessages {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// extractErrorMessage pulls a structured message out of an error
// response body, trying `error`, then `detail.error.message`, then
// `detail` as a plain string, before falling back to the status text.
func extractErrorMessage(body []byte, status int) string {
	var envelope struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if len(envelope.Detail) > 0 {
			var detail struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(envelope.Detail, &detail); err == nil && detail.Error.Message != "" {
				return detail.Error.Message
			}
			var detailStr string
			if err := json.Unmarshal(envelope.Detail, &detailStr); err == nil && detailStr != "" {
				return detailStr
			}
		}
	}
	return http.StatusText(status)
}
