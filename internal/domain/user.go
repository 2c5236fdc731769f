// Package domain contains core domain types for the PilotChat application.
package domain

// AnonymousUserKey is the shared quota and partition key for unauthenticated callers.
const AnonymousUserKey = "anon"

// UserIdentity describes the caller of a request.
type UserIdentity struct {
	UserID        *string `json:"user_id"`
	Email         *string `json:"email"`
	Authenticated bool    `json:"authenticated"`
}

// Anonymous is the identity used for every unauthenticated caller.
var Anonymous = UserIdentity{}

// NewUserIdentity returns an authenticated identity.
func NewUserIdentity(userID, email string) UserIdentity {
	id := UserIdentity{Authenticated: true}
	if userID != "" {
		id.UserID = &userID
	}
	if email != "" {
		id.Email = &email
	}
	return id
}

// QuotaKey returns the key used for quota tracking and conversation partitioning.
func (u UserIdentity) QuotaKey() string {
	if u.UserID == nil || *u.UserID == "" {
		return AnonymousUserKey
	}
	return *u.UserID
}

// EmailAddress returns the email or an empty string.
func (u UserIdentity) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// UserProfile is the display profile derived from an identity.
type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
}
