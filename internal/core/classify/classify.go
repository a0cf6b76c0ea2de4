// Package classify decides whether a deployment failure is worth retrying.
// Classification is a pure function of the error text, with two overrides:
// context cancellation and errors that already carry an explicit kind.
package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/anchorwave/deployer/internal/core/domain"
)

// permanentMarkers identify failures the external tool will report again on
// every retry: bad credentials, bad input, missing resources.
var permanentMarkers = []string{
	"auth",
	"unauthorized",
	"forbidden",
	"invalid",
	"not found",
	"validation",
	"bad request",
	"400",
	"401",
	"403",
	"404",
}

// transientMarkers identify failures that tend to clear on their own.
var transientMarkers = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"econnreset",
	"econnrefused",
	"socket hang up",
	"502",
	"503",
	"504",
	"429",
	"rate limit",
	"too many requests",
	"unavailable",
	"temporarily",
}

// Message classifies raw error text. Unrecognized text is transient: the
// default policy is to retry what we cannot name.
func Message(msg string) domain.ErrorKind {
	lower := strings.ToLower(msg)
	for _, m := range permanentMarkers {
		if strings.Contains(lower, m) {
			return domain.KindPermanent
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return domain.KindTransient
		}
	}
	return domain.KindTransient
}

// Of classifies an error. Context cancellation wins over everything; a
// *domain.DeployError keeps the kind its producer assigned; anything else
// falls back to text classification.
func Of(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return domain.KindCancelled
	}
	if derr, ok := domain.AsDeployError(err); ok && derr.Kind != "" {
		return derr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTransient
	}
	return Message(err.Error())
}
