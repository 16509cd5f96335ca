package models

import "time"

// Account is the persisted credential record. The raw password is never
// stored; only the salt and the argon2id hash are.
type Account struct {
	ID           int64
	Username     string
	Salt         []byte
	PasswordHash []byte
	Role         uint8
	FailedCount  int
	LastLoginAt  *time.Time
	LastLogoutAt *time.Time
	LastFailedAt *time.Time
	IsActive     bool
	CreatedAt    time.Time
}
