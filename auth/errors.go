package auth

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDiscoveryFailure     = errors.New("discovery failure")
	ErrAppLookupFailure     = errors.New("app lookup failure")
	ErrAppCreateFailure     = errors.New("app create failure")
	ErrInvalidApp           = errors.New("invalid app")
	ErrStateMismatch        = errors.New("state mismatch")
	ErrAppAuthCreateFailure = errors.New("app authorization create failure")
	ErrOAuth                = errors.New("oauth error")
)

// Symbolic failure code reported to the host application.
type FailureCode string

const (
	CodeDiscoveryFailure     FailureCode = "discovery_failure"
	CodeAppLookupFailure     FailureCode = "app_lookup_failure"
	CodeAppCreateFailure     FailureCode = "app_create_failure"
	CodeInvalidApp           FailureCode = "invalid_app"
	CodeStateMismatch        FailureCode = "state_mismatch"
	CodeAppAuthCreateFailure FailureCode = "app_auth_create_failure"
	CodeOAuthError           FailureCode = "oauth_error"
	CodeUnknownError         FailureCode = "unknown_error"
)

var failureDescriptions = map[FailureCode]string{
	CodeDiscoveryFailure:     "could not find a Tent server for that entity",
	CodeAppLookupFailure:     "could not verify the existing app registration",
	CodeAppCreateFailure:     "could not register this app with the Tent server",
	CodeInvalidApp:           "stored app registration is invalid",
	CodeStateMismatch:        "authorization state did not match; please try again",
	CodeAppAuthCreateFailure: "could not exchange the authorization code",
	CodeOAuthError:           "authorization was denied",
	CodeUnknownError:         "an unknown error occurred",
}

// Human-presentable summary of the failure code.
func (c FailureCode) Description() string {
	if d, ok := failureDescriptions[c]; ok {
		return d
	}
	return failureDescriptions[CodeUnknownError]
}

// Maps any error returned from within a flow to a failure code. The cause is returned
// unmodified. Errors which don't wrap one of the package sentinel errors are "unknown".
func Classify(err error) (FailureCode, error) {
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, ErrInvalidApp):
		return CodeInvalidApp, err
	case errors.Is(err, ErrAppLookupFailure):
		return CodeAppLookupFailure, err
	case errors.Is(err, ErrAppCreateFailure):
		return CodeAppCreateFailure, err
	case errors.Is(err, ErrDiscoveryFailure):
		return CodeDiscoveryFailure, err
	case errors.Is(err, ErrStateMismatch):
		return CodeStateMismatch, err
	case errors.Is(err, ErrAppAuthCreateFailure):
		return CodeAppAuthCreateFailure, err
	case errors.Is(err, ErrOAuth):
		return CodeOAuthError, err
	default:
		return CodeUnknownError, err
	}
}

// Error returned from both flow phases (and passed to the failure hook). Wraps the
// original cause.
type FlowError struct {
	Code  FailureCode
	Stage FlowStage
	Cause error
}

func (e *FlowError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("tent auth failed (%s)", e.Code)
	}
	return fmt.Sprintf("tent auth failed (%s): %s", e.Code, e.Cause)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

func newFlowError(stage FlowStage, err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	code, cause := Classify(err)
	return &FlowError{
		Code:  code,
		Stage: stage,
		Cause: cause,
	}
}

// Error response from a Tent server.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (ae *APIError) Error() string {
	if ae.StatusCode > 0 {
		if ae.Name != "" && ae.Message != "" {
			return fmt.Sprintf("tent request failed (HTTP %d): %s: %s", ae.StatusCode, ae.Name, ae.Message)
		} else if ae.Name != "" {
			return fmt.Sprintf("tent request failed (HTTP %d): %s", ae.StatusCode, ae.Name)
		}
		return fmt.Sprintf("tent request failed (HTTP %d)", ae.StatusCode)
	}
	return "tent request failed"
}

type errorBody struct {
	Name    string `json:"error"`
	Message string `json:"error_description,omitempty"`
}

func responseError(resp *ProtocolResponse) error {
	var eb errorBody
	if err := json.Unmarshal(resp.Body, &eb); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Name:       eb.Name,
		Message:    eb.Message,
	}
}
