package domain

// Account is an ephemeral service account created per run.
type Account struct {
	Username string
	Password string
}

// Email is a delivered notification as seen through the inbox.
type Email struct {
	From    string
	Subject string
	Text    string
}

// Vantage names a caller identity used to sample the service.
type Vantage string

const (
	VantageOwner     Vantage = "owner"
	VantageOther     Vantage = "other"
	VantageAnonymous Vantage = "anonymous"
	VantageRelogin   Vantage = "owner-relogin"
)
