package auth

import "time"

// TokenTypeBearer is the token_type returned with every pair
const TokenTypeBearer = "Bearer"

// TokenPair is an access token with its matching refresh token
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IssuePair issues an access and a refresh token for identity using the
// configured TTLs
func (ts *TokenService) IssuePair(identity Identity) (TokenPair, error) {
	access, accessExp, err := ts.IssueAccess(identity)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, refreshExp, err := ts.IssueRefresh(identity, 0)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        TokenTypeBearer,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
