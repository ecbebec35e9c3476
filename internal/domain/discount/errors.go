package discount

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Reason is a machine-readable code explaining why a rule is not usable.
type Reason string

const (
	ReasonUnknownCode       Reason = "UNKNOWNCODE"
	ReasonInactive          Reason = "INACTIVE"
	ReasonNotStarted        Reason = "NOTSTARTED"
	ReasonExpired           Reason = "EXPIRED"
	ReasonCodeRequired      Reason = "CODEREQUIRED"
	ReasonCodeMismatch      Reason = "CODEMISMATCH"
	ReasonMinimumSpend      Reason = "MINIMUMSPEND"
	ReasonUseLimit          Reason = "USELIMIT"
	ReasonBalanceExhausted  Reason = "BALANCEEXHAUSTED"
	ReasonInvalidType       Reason = "INVALIDTYPE"
	ReasonInvalidAmount     Reason = "INVALIDAMOUNT"
	ReasonInvalidPercent    Reason = "INVALIDPERCENT"
	ReasonInvalidMaxAmount  Reason = "INVALIDMAXAMOUNT"
	ReasonNoScope           Reason = "NOSCOPE"
	ReasonInvalidWindow     Reason = "INVALIDWINDOW"
	ReasonInvalidBalance    Reason = "INVALIDBALANCE"
	ReasonInvalidMinLength  Reason = "INVALIDMINLENGTH"
	ReasonInvalidCode       Reason = "INVALIDCODE"
	ReasonPartialUseAmount  Reason = "PARTIALUSEAMOUNT"
	ReasonInvalidUseLimit   Reason = "INVALIDUSELIMIT"
	ReasonInvalidMinimumSum Reason = "INVALIDMINIMUM"
)

// ValidationError reports a legitimate ineligibility of a rule for an order.
// It is returned for display and never aborts a calculation.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrUnknownCode       = &ValidationError{Reason: ReasonUnknownCode, Message: "The coupon code is not recognised."}
	ErrInactive          = &ValidationError{Reason: ReasonInactive, Message: "This discount is not active."}
	ErrNotStarted        = &ValidationError{Reason: ReasonNotStarted, Message: "This discount has not started yet."}
	ErrExpired           = &ValidationError{Reason: ReasonExpired, Message: "This discount has expired."}
	ErrCodeRequired      = &ValidationError{Reason: ReasonCodeRequired, Message: "A coupon code is required."}
	ErrCodeMismatch      = &ValidationError{Reason: ReasonCodeMismatch, Message: "The coupon code does not match."}
	ErrMinimumSpendUnmet = &ValidationError{Reason: ReasonMinimumSpend, Message: "The order does not meet the minimum spend."}
	ErrUsageLimitReached = &ValidationError{Reason: ReasonUseLimit, Message: "This discount has reached its use limit."}
	ErrBalanceExhausted  = &ValidationError{Reason: ReasonBalanceExhausted, Message: "This discount has no remaining balance."}
)

// ConfigError reports an internally inconsistent rule definition. Such a
// rule is refused rather than treated as a non-match.
type ConfigError struct {
	RuleID int64
	Title  string
	Reason Reason
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("discount %d (%q) misconfigured: %s: %s", e.RuleID, e.Title, e.Reason, e.Detail)
}

// InvalidRulesError aggregates the misconfigured rules met while matching.
type InvalidRulesError struct {
	Errs []*ConfigError
}

func (e *InvalidRulesError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d invalid discount rule(s): %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual configuration errors to errors.As.
func (e *InvalidRulesError) Unwrap() []error {
	out := make([]error, len(e.Errs))
	for i, err := range e.Errs {
		out[i] = err
	}
	return out
}

// FailureReason extracts the reason code from a validation or configuration
// error. It returns an empty Reason for nil and for unrelated errors.
func FailureReason(err error) Reason {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return cerr.Reason
	}
	return ""
}
