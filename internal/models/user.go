package models

// Account is the minimal view of a registered identity the ingestion core needs.
type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DeviceToken string `json:"-"`
}
