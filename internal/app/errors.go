package app

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"access_grant_service/internal/app/constraint"
	"access_grant_service/internal/domain/campaign"
	"access_grant_service/internal/domain/grant"
)

// Errors of the grant lifecycle. Callers match them with errors.Is; the
// localized text travels in *LocalizedError.
var (
	ErrInvalidEmail        = errors.New("invalid recipient email")
	ErrCampaignNotFound    = campaign.ErrCampaignNotFound
	ErrGrantNotFound       = grant.ErrGrantNotFound
	ErrNotAuthorized       = errors.New("not allowed to change this grant")
	ErrConstraintViolation = errors.New("grant constraints violated")
	ErrInvalidReason       = errors.New("invalidation reason must not be empty")
	ErrEmptyPeriod         = constraint.ErrEmptyPeriod
)

// LocalizedError pairs a sentinel with a message meant for the end user.
type LocalizedError struct {
	Err     error
	Message string
}

func (e *LocalizedError) Error() string { return e.Message }

func (e *LocalizedError) Unwrap() error { return e.Err }

// ConstraintViolationError carries every failed constraint of a grant
// request. Message is the first violation's text.
type ConstraintViolationError struct {
	Message    string
	Violations []constraint.Violation
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("%s (%d constraint(s) violated)", e.Message, len(e.Violations))
}

func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// validEmail accepts a bare address with a dotted domain, nothing else:
// no display names, no angle brackets, no surrounding spaces.
func validEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}
