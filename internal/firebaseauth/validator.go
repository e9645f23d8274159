// Package firebaseauth enforces the signup policy for the Firebase project
// backing the UI, and exposes the user-administration operations shared by
// the HTTP endpoints and the admin CLI.
package firebaseauth

import (
	"regexp"
	"strings"

	"firebase.google.com/go/v4/auth"
)

// googleProviderID is the Firebase provider id for Google OAuth signups.
const googleProviderID = "google.com"

var phoneE164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Policy is the signup validation policy. Validation is active only outside
// production, and only Google OAuth users are domain-checked: email/password
// accounts are created by administrators and are trusted as-is.
type Policy struct {
	// Production disables validation entirely.
	Production bool
	// AllowedDomains are the email domains permitted for Google OAuth
	// signups.
	AllowedDomains []string
}

// Decision is the outcome of validating one user.
type Decision struct {
	UID     string `json:"uid"`
	Email   string `json:"email,omitempty"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Evaluate applies the policy to a user record.
func (p Policy) Evaluate(user *auth.UserRecord) Decision {
	d := Decision{UID: user.UID, Email: user.Email}

	if p.Production {
		d.Allowed = true
		d.Reason = "validation disabled in production"
		return d
	}
	if !isGoogleUser(user) {
		d.Allowed = true
		d.Reason = "not a Google OAuth user"
		return d
	}
	if p.domainAllowed(user.Email) {
		d.Allowed = true
		d.Reason = "domain allowed"
		return d
	}
	d.Allowed = false
	d.Reason = "email domain not in allowlist"
	return d
}

func (p Policy) domainAllowed(email string) bool {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" {
		return false
	}
	domain = strings.ToLower(domain)
	for _, allowed := range p.AllowedDomains {
		if domain == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func isGoogleUser(user *auth.UserRecord) bool {
	for _, info := range user.ProviderUserInfo {
		if info != nil && info.ProviderID == googleProviderID {
			return true
		}
	}
	return false
}

// ValidPhone reports whether the number is in E.164 form.
func ValidPhone(number string) bool {
	return phoneE164.MatchString(number)
}
