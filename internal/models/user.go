package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// User is the read-only view of an account that can own bookings
type User struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Email     *string        `json:"email,omitempty" db:"email"`
	Phone     *string        `json:"phone,omitempty" db:"phone"`
	FirstName *string        `json:"first_name,omitempty" db:"first_name"`
	LastName  *string        `json:"last_name,omitempty" db:"last_name"`
	Roles     pq.StringArray `json:"roles" db:"roles"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// FullName joins the first and last name, skipping blanks
func (u *User) FullName() string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	return strings.Join(parts, " ")
}

// HasRole checks if the user carries the given role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AsCustomer builds the payer identity from the profile
func (u *User) AsCustomer() Customer {
	c := Customer{Name: u.FullName()}
	if u.Email != nil {
		c.Email = *u.Email
	}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	return c
}
