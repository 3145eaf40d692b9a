package notary

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	// ValidationFailure means the request was malformed or not authorised.
	ValidationFailure FailureKind = "validation"
	// BusinessRuleFailure means the request was valid but could not succeed.
	BusinessRuleFailure FailureKind = "business"
	// IntegrityFailure means stored or signed state disagrees with itself.
	IntegrityFailure FailureKind = "integrity"
	// InternalFailure covers storage errors; the request is still answered.
	InternalFailure FailureKind = "internal"
)

// Reason is a machine readable failure code carried by rejected items.
type Reason string

const (
	ReasonMalformed          Reason = "malformed"
	ReasonWrongNotary        Reason = "wrong-notary"
	ReasonUnknownNym         Reason = "unknown-nym"
	ReasonUnknownAccount     Reason = "unknown-account"
	ReasonUnknownUnit        Reason = "unknown-unit"
	ReasonNotOwner           Reason = "not-owner"
	ReasonBadSignature       Reason = "bad-signature"
	ReasonNumberUnavailable  Reason = "tx-number-unavailable"
	ReasonNumberUsed         Reason = "tx-number-used"
	ReasonMissingAgreement   Reason = "missing-balance-agreement"
	ReasonBalanceMismatch    Reason = "balance-mismatch"
	ReasonStatementMismatch  Reason = "statement-mismatch"
	ReasonUnitMismatch       Reason = "unit-mismatch"
	ReasonInvalidAmount      Reason = "invalid-amount"
	ReasonNoSuchReceipt      Reason = "no-such-receipt"
	ReasonNotParty           Reason = "not-a-party"
	ReasonNoSuchCronItem     Reason = "no-such-cron-item"
	ReasonInsufficientFunds  Reason = "insufficient-funds"
	ReasonExpired            Reason = "expired"
	ReasonNotYetValid        Reason = "not-yet-valid"
	ReasonNoHolders          Reason = "no-holders"
	ReasonAgreementMismatch  Reason = "agreement-mismatch"
	ReasonReserveShortfall   Reason = "reserve-shortfall"
	ReasonForeignReceipt     Reason = "foreign-receipt"
	ReasonInternal           Reason = "internal"
	ReasonAlreadyTerminal    Reason = "already-terminal"
	ReasonDuplicateReference Reason = "duplicate-reference"
)

// Failure is a recoverable notarization failure. It never escapes the
// dispatcher; it is converted into a rejected response item.
type Failure struct {
	Kind   FailureKind
	Reason Reason
	Msg    string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure (%s): %s", f.Kind, f.Reason, f.Msg)
}

func validation(reason Reason, format string, args ...any) *Failure {
	return &Failure{Kind: ValidationFailure, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func business(reason Reason, format string, args ...any) *Failure {
	return &Failure{Kind: BusinessRuleFailure, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func integrity(reason Reason, format string, args ...any) *Failure {
	return &Failure{Kind: IntegrityFailure, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps err into a Failure. Anything else becomes an internal
// failure so the caller still gets a response.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	return &Failure{Kind: InternalFailure, Reason: ReasonInternal, Msg: err.Error()}
}
