package models

// NewUser is the provider-neutral createUser input. Providers translate
// it into their own payload shape.
type NewUser struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Name       string `json:"name,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// UserInfo is the subset of a userinfo response the relay acts on.
type UserInfo struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles"`
}
