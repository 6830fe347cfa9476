package model

import "time"

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. The db tags are consumed by sqlx when scanning rows;
// handlers define separate response types with JSON tags so the
// password hash can never leak into a response body.
//
// Fields:
//  ID                   – primary key identifier of the user.
//  Username             – unique login name (stored lowercase).
//  Email                – unique email address (stored lowercase).
//  PasswordHash         – bcrypt hashed password.
//  Role                 – role name, either "user" or "admin".
//  PhoneNumber          – contact phone captured at registration.
//  CompanyName          – optional company captured at registration.
//  DisclaimerAcceptedAt – when the user accepted the data disclaimer.
//  IsActive             – whether the account may log in.
//  LastLoginAt          – timestamp of the most recent successful login.
//  CreatedAt            – timestamp of creation.
//  UpdatedAt            – timestamp of last update.
type User struct {
	ID                   uint64     `db:"id"`
	Username             string     `db:"username"`
	Email                string     `db:"email"`
	PasswordHash         string     `db:"password_hash"`
	Role                 string     `db:"role"`
	PhoneNumber          string     `db:"phone_number"`
	CompanyName          string     `db:"company_name"`
	DisclaimerAcceptedAt *time.Time `db:"disclaimer_accepted_at"`
	IsActive             bool       `db:"is_active"`
	LastLoginAt          *time.Time `db:"last_login_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// Roles a user record may carry. Registration always produces
// RoleUser; RoleAdmin rows are provisioned out of band.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
