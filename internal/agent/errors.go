package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stupiduntilnot/earnings-agent/internal/model"
)

// ErrorPrefix starts every answer that reports a failed model call.
const ErrorPrefix = "LLM error: "

const (
	TextUnauthorized = ErrorPrefix + "invalid API key or no access (401 Unauthorized)"
	TextRateLimited  = ErrorPrefix + "request rate limit exceeded (429 Too Many Requests)"
	TextUnavailable  = ErrorPrefix + "service temporarily unavailable (503 Service Unavailable)"
	TextInternal     = ErrorPrefix + "internal service error (500 Internal Server Error)"
)

// Error classes reported by Class.
const (
	ClassAuth        = "auth"
	ClassRateLimit   = "rate_limit"
	ClassUnavailable = "unavailable"
	ClassInternal    = "internal"
	ClassHTTP        = "http"
	ClassProvider    = "provider_api"
)

// ClassifyError turns a model failure into the answer shown to the user.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	var coder model.StatusCoder
	if errors.As(err, &coder) {
		switch code := coder.StatusCode(); code {
		case 401:
			return TextUnauthorized
		case 429:
			return TextRateLimited
		case 503:
			return TextUnavailable
		case 500:
			return TextInternal
		default:
			return fmt.Sprintf("%sHTTP %d", ErrorPrefix, code)
		}
	}
	return ErrorPrefix + err.Error()
}

// IsError reports whether an answer is a classified model failure.
func IsError(answer string) bool {
	return strings.HasPrefix(answer, ErrorPrefix)
}

// IsTransient reports whether re-invoking may yield a different answer.
// Authentication failures are permanent.
func IsTransient(answer string) bool {
	return IsError(answer) && answer != TextUnauthorized
}

// Class returns the error class of an answer, or "" when it is not an error.
func Class(answer string) string {
	switch {
	case !IsError(answer):
		return ""
	case answer == TextUnauthorized:
		return ClassAuth
	case answer == TextRateLimited:
		return ClassRateLimit
	case answer == TextUnavailable:
		return ClassUnavailable
	case answer == TextInternal:
		return ClassInternal
	case strings.HasPrefix(answer, ErrorPrefix+"HTTP "):
		return ClassHTTP
	default:
		return ClassProvider
	}
}
