package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput       = "COLLAB_BAD_INPUT"
	ErrorNotFound       = "COLLAB_NOT_FOUND"
	ErrorGrant          = "COLLAB_GRANT_ERROR"
	ErrorHTTP           = "COLLAB_HTTP_ERROR"
	ErrorTimeout        = "COLLAB_TIMEOUT"
	ErrorMaxRedirects   = "COLLAB_MAX_REDIRECTS"
	ErrorMaxReplays     = "COLLAB_MAX_REPLAYS"
	ErrorReauthRequired = "COLLAB_REAUTH_REQUIRED"
	ErrorEmbargoed      = "COLLAB_EMBARGOED"
	ErrorRateLimited    = "COLLAB_RATE_LIMITED"
	ErrorInternal       = "COLLAB_INTERNAL"
)

var (
	ErrNotFound       = errors.New("core: not found")
	ErrTimeout        = errors.New("core: timed out")
	ErrMaxRedirects   = errors.New("core: maximum redirects exceeded")
	ErrMaxReplays     = errors.New("core: maximum authentication replays exceeded")
	ErrReauthRequired = errors.New("core: re-authentication required")
	ErrEmbargoed      = errors.New("core: embargoed")
	ErrRateLimited    = errors.New("core: rate limited")
)

type serviceErrorer interface {
	ToServiceError() *goerrors.Error
}

// ToServiceError maps any error into a go-errors envelope carrying a collab
// text code and an HTTP style status.
func ToServiceError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEnvelope(richErr)
	}
	var typed serviceErrorer
	if errors.As(err, &typed) {
		return ensureEnvelope(typed.ToServiceError())
	}
	return ensureEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func newEnvelope(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = statusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = textCodeForCategory(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func textCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorReauthRequired
	case goerrors.CategoryAuthz:
		return ErrorEmbargoed
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorHTTP
	default:
		return ErrorInternal
	}
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NotFoundError reports a store or cache miss. Callers treat it as "no cached
// value" rather than a failure.
type NotFoundError struct {
	Namespace string
	Key       string
}

func NewNotFoundError(namespace string, key string) error {
	return &NotFoundError{Namespace: namespace, Key: key}
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s: %s/%s", ErrNotFound.Error(), e.Namespace, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func (e *NotFoundError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{}
	if e != nil {
		metadata["namespace"] = e.Namespace
		metadata["key"] = e.Key
	}
	return newEnvelope(e.Error(), goerrors.CategoryNotFound, http.StatusNotFound, ErrorNotFound, metadata)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type GrantErrorKind string

const (
	GrantInvalidRequest       GrantErrorKind = "invalid_request"
	GrantInvalidClient        GrantErrorKind = "invalid_client"
	GrantInvalidGrant         GrantErrorKind = "invalid_grant"
	GrantUnauthorizedClient   GrantErrorKind = "unauthorized_client"
	GrantUnsupportedGrantType GrantErrorKind = "unsupported_grant_type"
	GrantInvalidScope         GrantErrorKind = "invalid_scope"
	GrantUnknown              GrantErrorKind = "unknown"
)

// ParseGrantErrorKind maps the OAuth "error" field onto a known kind.
func ParseGrantErrorKind(value string) GrantErrorKind {
	switch kind := GrantErrorKind(strings.TrimSpace(strings.ToLower(value))); kind {
	case GrantInvalidRequest, GrantInvalidClient, GrantInvalidGrant,
		GrantUnauthorizedClient, GrantUnsupportedGrantType, GrantInvalidScope:
		return kind
	default:
		return GrantUnknown
	}
}

type GrantError struct {
	Kind        GrantErrorKind
	Description string
	StatusCode  int
	Cause       error
}

func (e *GrantError) Error() string {
	if e == nil {
		return "core: grant error"
	}
	message := "core: grant error: " + string(e.Kind)
	if strings.TrimSpace(e.Description) != "" {
		message += ": " + strings.TrimSpace(e.Description)
	}
	if e.StatusCode > 0 {
		message += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	return message
}

func (e *GrantError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *GrantError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryAuth
	code := http.StatusUnauthorized
	if e != nil && (e.Kind == GrantInvalidScope || e.Kind == GrantUnsupportedGrantType) {
		category = goerrors.CategoryBadInput
		code = http.StatusBadRequest
	}
	metadata := map[string]any{}
	if e != nil {
		metadata["grant_error"] = string(e.Kind)
		if e.StatusCode > 0 {
			metadata["status_code"] = e.StatusCode
		}
	}
	return newEnvelope(e.Error(), category, code, ErrorGrant, metadata)
}

// GrantErrorKindOf returns the grant error kind carried by err, if any.
func GrantErrorKindOf(err error) (GrantErrorKind, bool) {
	var grantErr *GrantError
	if !errors.As(err, &grantErr) || grantErr == nil {
		return "", false
	}
	return grantErr.Kind, true
}

// HTTPError is a non-2xx response. Payload holds the decoded JSON body when
// the body is a JSON object.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Headers    http.Header
	Body       []byte
	Payload    map[string]any
	Request    *Request
}

func NewHTTPError(res *Response) *HTTPError {
	if res == nil {
		return &HTTPError{}
	}
	httpErr := &HTTPError{
		StatusCode: res.StatusCode,
		Headers:    res.Headers.Clone(),
		Body:       res.Body,
		Request:    res.Request,
	}
	if res.Request != nil {
		httpErr.Method = res.Request.Method
		httpErr.URL = res.Request.URI
	}
	if len(res.Body) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(res.Body, &payload); err == nil {
			httpErr.Payload = payload
		}
	}
	return httpErr
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "core: http error"
	}
	message := fmt.Sprintf("core: http %d", e.StatusCode)
	if e.Method != "" || e.URL != "" {
		message += fmt.Sprintf(" %s %s", e.Method, e.URL)
	}
	if detail := e.message(); detail != "" {
		message += ": " + detail
	}
	return message
}

func (e *HTTPError) message() string {
	for _, key := range []string{"message", "error_description", "error"} {
		if value, ok := e.Payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// PayloadInt reads a numeric field from the decoded body.
func (e *HTTPError) PayloadInt(key string) (int, bool) {
	if e == nil {
		return 0, false
	}
	switch typed := e.Payload[key].(type) {
	case float64:
		return int(typed), true
	case int:
		return typed, true
	case json.Number:
		value, err := typed.Int64()
		return int(value), err == nil
	default:
		return 0, false
	}
}

func (e *HTTPError) PayloadString(key string) string {
	if e == nil {
		return ""
	}
	value, _ := e.Payload[key].(string)
	return strings.TrimSpace(value)
}

func (e *HTTPError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryExternal
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		category = goerrors.CategoryAuth
	case e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusUnavailableForLegalReasons:
		category = goerrors.CategoryAuthz
	case e.StatusCode == http.StatusNotFound:
		category = goerrors.CategoryNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case e.StatusCode >= 400 && e.StatusCode < 500:
		category = goerrors.CategoryBadInput
	}
	return newEnvelope(e.Error(), category, e.StatusCode, ErrorHTTP, map[string]any{
		"status_code": e.StatusCode,
		"method":      e.Method,
		"url":         e.URL,
	})
}

func HTTPErrorFrom(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr != nil {
		return httpErr, true
	}
	return nil, false
}

type TimeoutError struct {
	Operation string
	Target    string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ErrTimeout.Error()
	}
	return fmt.Sprintf("%s: %s %q after %s", ErrTimeout.Error(), e.Operation, e.Target, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

func (e *TimeoutError) ToServiceError() *goerrors.Error {
	return newEnvelope(e.Error(), goerrors.CategoryOperation, http.StatusGatewayTimeout, ErrorTimeout, map[string]any{
		"operation": e.Operation,
		"target":    e.Target,
	})
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// RedirectKind distinguishes the explicit header redirect from the in-band
// resource migration redirect.
type RedirectKind string

const (
	RedirectAppLevel RedirectKind = "app_level"
	RedirectService  RedirectKind = "service"
)

type MaxRedirectsError struct {
	Kind  RedirectKind
	Limit int
	URL   string
	Cause error
}

func (e *MaxRedirectsError) Error() string {
	if e == nil {
		return ErrMaxRedirects.Error()
	}
	return fmt.Sprintf("%s: %s limit %d reached at %s", ErrMaxRedirects.Error(), e.Kind, e.Limit, e.URL)
}

func (e *MaxRedirectsError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrMaxRedirects}
	}
	return []error{ErrMaxRedirects, e.Cause}
}

func (e *MaxRedirectsError) ToServiceError() *goerrors.Error {
	return newEnvelope(e.Error(), goerrors.CategoryOperation, http.StatusLoopDetected, ErrorMaxRedirects, map[string]any{
		"redirect_kind": string(e.Kind),
		"limit":         e.Limit,
	})
}

type MaxReplaysError struct {
	Limit int
	URL   string
	Cause error
}

func (e *MaxReplaysError) Error() string {
	if e == nil {
		return ErrMaxReplays.Error()
	}
	return fmt.Sprintf("%s: limit %d reached at %s", ErrMaxReplays.Error(), e.Limit, e.URL)
}

func (e *MaxReplaysError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrMaxReplays}
	}
	return []error{ErrMaxReplays, e.Cause}
}

func (e *MaxReplaysError) ToServiceError() *goerrors.Error {
	return newEnvelope(e.Error(), goerrors.CategoryAuth, http.StatusUnauthorized, ErrorMaxReplays, map[string]any{
		"limit": e.Limit,
	})
}

type ReauthRequiredError struct {
	Cause error
}

func (e *ReauthRequiredError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrReauthRequired.Error()
	}
	return ErrReauthRequired.Error() + ": " + e.Cause.Error()
}

func (e *ReauthRequiredError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrReauthRequired}
	}
	return []error{ErrReauthRequired, e.Cause}
}

func (e *ReauthRequiredError) ToServiceError() *goerrors.Error {
	return newEnvelope(e.Error(), goerrors.CategoryAuth, http.StatusUnauthorized, ErrorReauthRequired, nil)
}

type EmbargoError struct {
	Cause error
}

func (e *EmbargoError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrEmbargoed.Error()
	}
	return ErrEmbargoed.Error() + ": " + e.Cause.Error()
}

func (e *EmbargoError) Unwrap() []error {
	if e == nil || e.Cause == nil {
		return []error{ErrEmbargoed}
	}
	return []error{ErrEmbargoed, e.Cause}
}

func (e *EmbargoError) ToServiceError() *goerrors.Error {
	return newEnvelope(e.Error(), goerrors.CategoryAuthz, http.StatusUnavailableForLegalReasons, ErrorEmbargoed, nil)
}

type RateLimitedError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e == nil {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: service %q throttled for %s", ErrRateLimited.Error(), e.Service, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

func (e *RateLimitedError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"service": e.Service}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return newEnvelope(e.Error(), goerrors.CategoryRateLimit, http.StatusTooManyRequests, ErrorRateLimited, metadata)
}

func goerrorsBadInput(message string) *goerrors.Error {
	return newEnvelope(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, nil)
}

// NewBadInputError builds a validation envelope used by every package for
// argument checks.
func NewBadInputError(message string) error {
	return goerrorsBadInput(message)
}

// NewMissingDependencyError reports a handler built without one of its
// collaborators.
func NewMissingDependencyError(message string) error {
	return newEnvelope(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, nil)
}

// NewFieldError reports a message field that failed validation. scope
// prefixes the summary, e.g. "command" or "query".
func NewFieldError(scope string, field string, message string) error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}
