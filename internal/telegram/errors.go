package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// APIError is a failed Bot API call.
type APIError struct {
	Code        int
	Description string
	// RetryAfterSeconds is set by the platform on 429 responses.
	RetryAfterSeconds int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error (code %d): %s", e.Code, e.Description)
}

// RetryAfter returns the delay the platform asked for, if any.
func (e *APIError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterSeconds) * time.Second
}

// wrapError turns a tgbotapi error into an *APIError. Transport errors
// are wrapped with the operation name and returned as is.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) {
		return &APIError{Code: ptr.Code, Description: ptr.Message, RetryAfterSeconds: ptr.RetryAfter}
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return &APIError{Code: val.Code, Description: val.Message, RetryAfterSeconds: val.RetryAfter}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

func descriptionContains(apiErr *APIError, fragments ...string) bool {
	desc := strings.ToLower(apiErr.Description)
	for _, f := range fragments {
		if strings.Contains(desc, f) {
			return true
		}
	}
	return false
}

// IsRateLimited reports a 429 Too Many Requests.
func IsRateLimited(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusTooManyRequests
}

// IsMarkupError reports a 400 caused by entities the platform could not parse.
func IsMarkupError(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest &&
		descriptionContains(apiErr, "can't parse entities", "can't parse entity", "can't find end of")
}

// IsEditTargetMissing reports a 400 for an edit of a message the platform
// does not know yet. It shows up right after creation under load.
func IsEditTargetMissing(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest &&
		descriptionContains(apiErr, "message to edit not found")
}

// IsNotModified reports a 400 for an edit that would not change anything.
func IsNotModified(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest &&
		descriptionContains(apiErr, "message is not modified")
}
