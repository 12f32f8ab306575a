package models

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenExpiryResponse is returned by login and refresh; the credentials themselves travel in cookies.
type TokenExpiryResponse struct {
	AccessCookieExpiration  time.Time `json:"access_cookie_expiration"`
	RefreshCookieExpiration time.Time `json:"refresh_cookie_expiration"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// EmailTask is the payload queued for the mail worker.
type EmailTask struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}
