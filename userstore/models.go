package userstore

import (
	"time"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
)

// User is a local account.
// PasswordHash is empty for accounts that can only log in through the directory.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:255;not null"`
	Email        string `gorm:"size:255"`
	DisplayName  string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity converts the account to the bridge's view of it.
func (u *User) Identity() *ldapauth.Identity {
	return &ldapauth.Identity{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}
}

// LoginFailure is one audit row per login rejected by the bridge or the local check.
type LoginFailure struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"index;size:255;not null"`
	CreatedAt time.Time
}

// Setting is a key/value row of the directory settings table.
type Setting struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// AllModels lists the models migrated by New.
func AllModels() []any {
	return []any{&User{}, &LoginFailure{}, &Setting{}}
}
