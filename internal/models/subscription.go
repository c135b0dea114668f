package models

import "time"

type Subscription struct {
	ID        string    `json:"id" db:"id"`
	Identity  string    `json:"identity" db:"identity"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	P256dh    string    `json:"p256dh" db:"p256dh_key"`
	Auth      string    `json:"auth" db:"auth_key"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	LastUsed  time.Time `json:"last_used" db:"last_used"`
}
