package cartapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wondertwin-ai/samplecart/internal/cart"
)

// APIError is an application-level failure reported by the cart API, either
// through a non-2xx status or an error payload on a 2xx response.
type APIError struct {
	HTTPStatus  int    `json:"-"`
	Status      int    `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	Errors      string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.Description != "":
		return "cart api: " + e.Description
	case e.Errors != "":
		return "cart api: " + e.Errors
	case e.Message != "":
		return fmt.Sprintf("cart api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("cart api: status %d", e.Status)
}

// RefreshError reports an add the cart API applied whose resulting cart could
// not be fetched. Added holds the lines and sections the add answered with.
type RefreshError struct {
	Added *cart.Cart
	Err   error
}

func (e *RefreshError) Error() string {
	return "cart api: added but not refreshed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

// UserMessage is the text shown next to the line item.
func (e *APIError) UserMessage() string {
	switch {
	case e.Errors != "":
		return e.Errors
	case e.Description != "":
		return e.Description
	}
	return e.Message
}

// errorProbe captures the error-shaped fields of any cart API payload.
type errorProbe struct {
	Status      json.RawMessage `json:"status"`
	Message     string          `json:"message"`
	Description string          `json:"description"`
	Errors      json.RawMessage `json:"errors"`
}

// checkPayload returns an *APIError when a payload carries errors or status.
func checkPayload(data []byte) error {
	if apiErr := parseAPIError(data); apiErr != nil {
		return apiErr
	}
	return nil
}

func parseAPIError(data []byte) *APIError {
	var p errorProbe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	status, hasStatus := rawInt(p.Status)
	errs := flattenErrors(p.Errors)
	if !hasStatus && errs == "" {
		return nil
	}
	return &APIError{
		Status:      status,
		Message:     p.Message,
		Description: p.Description,
		Errors:      errs,
	}
}

// rawInt reads a status that may be sent as number or string.
func rawInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		fmt.Sscanf(s, "%d", &n)
		return n, true
	}
	return 0, false
}

// flattenErrors turns the errors field (string, list or field map) into text.
func flattenErrors(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var fields map[string][]string
	if err := json.Unmarshal(raw, &fields); err == nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(fields[k], ", "))
		}
		return strings.Join(parts, "; ")
	}
	return string(raw)
}
