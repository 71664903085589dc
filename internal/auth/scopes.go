package auth

const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
	ScopeRead    = "loanflow:read"
	ScopeWrite   = "loanflow:write"
)

// AllScopes defines the full set of scopes requested by the Swagger UI
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeRead,
	ScopeWrite,
}

// apiScopes are granted to interactive sessions and the dev bypass.
var apiScopes = []string{ScopeRead, ScopeWrite}
