package model

import (
	"strings"
	"time"
)

// ClientStatus represents the service state of a client record.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusPaused   ClientStatus = "paused"
	ClientStatusInactive ClientStatus = "inactive"
)

// Client represents a business serviced by an owner/operator.
type Client struct {
	ID            string       `json:"id"`
	OwnerID       string       `json:"owner_id"`
	BusinessName  string       `json:"business_name"`
	BusinessEmail string       `json:"business_email,omitempty"`
	ExtraEmails   []string     `json:"extra_emails,omitempty"`
	ContactFirst  string       `json:"contact_first,omitempty"`
	ContactLast   string       `json:"contact_last,omitempty"`
	Status        ClientStatus `json:"status"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ContactName returns the client's contact full name, or "" when unset.
func (c *Client) ContactName() string {
	return strings.TrimSpace(strings.TrimSpace(c.ContactFirst) + " " + strings.TrimSpace(c.ContactLast))
}

// AllEmails returns every known email for the client, normalized and
// de-duplicated. The business email, when set, comes first.
func (c *Client) AllEmails() []string {
	seen := make(map[string]struct{}, len(c.ExtraEmails)+1)
	var out []string
	for _, raw := range append([]string{c.BusinessEmail}, c.ExtraEmails...) {
		e := NormalizeEmail(raw)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// HasEmail reports whether the normalized email is already in the client's
// known-email set.
func (c *Client) HasEmail(email string) bool {
	e := NormalizeEmail(email)
	if e == "" {
		return false
	}
	for _, known := range c.AllEmails() {
		if known == e {
			return true
		}
	}
	return false
}

// NormalizeEmail lower-cases and trims an email address. Comparison and
// storage both go through this so the email-set invariant holds everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
