// Package models defines types shared across internal packages.
package models

// TokenSet is the token endpoint answer for a user grant.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Profile is the user profile built from identity token claims.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"givenName,omitempty"`
	FamilyName    string `json:"familyName,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// Session is returned to the frontend after a successful login or
// refresh. Nothing in it is stored server-side.
type Session struct {
	AccessToken  string   `json:"accessToken"`
	IDToken      string   `json:"idToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresIn    int      `json:"expiresIn,omitempty"`
	Profile      Profile  `json:"profile"`
	Roles        []string `json:"roles"`
}

// ClientConfig is the public configuration the frontend needs to start
// a login. It never carries secrets.
type ClientConfig struct {
	Provider    string `json:"provider"`
	Domain      string `json:"domain"`
	ClientID    string `json:"clientId"`
	Audience    string `json:"audience,omitempty"`
	LoginFlow   string `json:"loginFlow"`
	RedirectURI string `json:"redirectUri,omitempty"`
}
