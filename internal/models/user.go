package models

import "time"

// UserRole distinguishes regular subscribers from administrators.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is the subset of the account-management user record this pipeline
// reads. The account subsystem owns the full record; nothing here writes it.
type User struct {
	ID                   string   `json:"id" db:"id"`
	Email                string   `json:"email" db:"email"`
	Name                 string   `json:"name" db:"name"`
	Role                 UserRole `json:"role" db:"role"`
	IsActive             bool     `json:"isActive" db:"is_active"`
	NotificationsEnabled bool     `json:"notificationsEnabled" db:"notifications_enabled"`
}

// IsAdmin reports whether the user must never receive ATH mail.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SubscriptionStatus is the billing-owned lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionExpired SubscriptionStatus = "expired"
	SubscriptionBlocked SubscriptionStatus = "blocked"
)

// Subscription is the subset of the billing record consumed here, read-only.
type Subscription struct {
	UserID  string             `json:"userId" db:"user_id"`
	Status  SubscriptionStatus `json:"status" db:"status"`
	EndDate time.Time          `json:"endDate" db:"end_date"`
}

// IsCurrent reports whether the subscription entitles the user to
// notifications at the given instant: active status and an end date still in
// the future. A stale "active" row past its end date does not qualify.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionActive && s.EndDate.After(now)
}
