package domain

// Reason identifies why a check-in was rejected. Each reason maps to one
// specific operator-facing message; there is no generic failure bucket.
type Reason string

const (
	ReasonBlacklisted           Reason = "blacklisted"
	ReasonMonthlyLimitExceeded  Reason = "monthly_limit_exceeded"
	ReasonHostAtCapacity        Reason = "host_at_capacity"
	ReasonLocationAtCapacity    Reason = "location_at_capacity"
	ReasonLocationClosed        Reason = "location_closed"
	ReasonConsentMissing        Reason = "consent_missing"
	ReasonConsentRenewalFailed  Reason = "consent_expired_renewal_failed"
	ReasonInvalidQRFormat       Reason = "invalid_qr_format"
	ReasonInvalidSignature      Reason = "invalid_signature"
	ReasonQRExpired             Reason = "qr_expired"
	ReasonOverridePasswordWrong Reason = "override_password_incorrect"
	ReasonUnknownHost           Reason = "unknown_host"
)

// Overridable reports whether a security/admin actor may bypass the
// rejection. Only quota failures qualify; identity failures never do.
func (r Reason) Overridable() bool {
	return r == ReasonHostAtCapacity || r == ReasonLocationAtCapacity
}

// Message is the guest/operator-facing explanation for the rejection.
func (r Reason) Message() string {
	switch r {
	case ReasonBlacklisted:
		return "Guest is not permitted on the premises"
	case ReasonMonthlyLimitExceeded:
		return "Guest has reached the monthly visit limit"
	case ReasonHostAtCapacity:
		return "Host already has the maximum number of guests checked in"
	case ReasonLocationAtCapacity:
		return "Location has reached its daily visitor capacity"
	case ReasonLocationClosed:
		return "Location is closed for check-ins"
	case ReasonConsentMissing:
		return "Guest must accept the visitor terms before checking in"
	case ReasonConsentRenewalFailed:
		return "Could not renew the guest's visitor terms; please retry"
	case ReasonInvalidQRFormat:
		return "QR code could not be read"
	case ReasonInvalidSignature:
		return "QR code failed verification"
	case ReasonQRExpired:
		return "QR code has expired"
	case ReasonOverridePasswordWrong:
		return "Override password incorrect"
	case ReasonUnknownHost:
		return "Hosting employee not found"
	default:
		return string(r)
	}
}
