package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthentication       = errors.New("webhook authentication failed")
	ErrDuplicateEvent       = errors.New("event already processed")
	ErrInsufficientBalance  = errors.New("insufficient credit balance")
	ErrSpendingDisabled     = errors.New("credit spending is disabled for this account")
	ErrProvisioningStep     = errors.New("tenant provisioning failed")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrEntryNotFound        = errors.New("ledger entry not found")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrNotCompensable       = errors.New("only grant entries can be refunded or reversed")
	ErrEmailTaken           = errors.New("email already registered")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidCredentials   = errors.New("invalid email or password")
)

// ProvisioningStepError is the single error returned when a mandatory
// provisioning step fails. All earlier steps have been compensated unless
// CompensationErrs is non-empty.
type ProvisioningStepError struct {
	Step             string
	Err              error
	CompensationErrs []error
}

func (e *ProvisioningStepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provisioning step %q failed: %v", e.Step, e.Err)
	if len(e.CompensationErrs) > 0 {
		fmt.Fprintf(&b, "; compensation incomplete: %v", errors.Join(e.CompensationErrs...))
	}
	return b.String()
}

func (e *ProvisioningStepError) Is(target error) bool {
	return target == ErrProvisioningStep
}

func (e *ProvisioningStepError) Unwrap() error {
	return e.Err
}
