package apperrors

import "github.com/pkg/errors"

var (
	// ErrUpstreamUnavailable is returned when the pair registry, the
	// reserves provider or the token metadata provider failed or timed
	// out. The engine never retries it and never caches a value for it.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidInput is returned for malformed token identifiers and
	// for amounts that must be positive but are not. Rejected before
	// any cache or upstream interaction.
	ErrInvalidInput = errors.New("invalid input")
)

// Upstream wraps err as an upstream failure, keeping the original
// cause in the message for logging.
func Upstream(err error, msg string) error {
	return errors.Wrapf(ErrUpstreamUnavailable, "%s: %v", msg, err)
}
