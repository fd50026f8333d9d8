package model

// User is a dashboard account.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	LastToken    string `json:"-"`
}
