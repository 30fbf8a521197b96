package model

// Identity is the result of resolving a connection credential. It is a
// two-case variant: either an anonymous guest or an authenticated agent.
type Identity struct {
	agentID string
}

// Anonymous is the zero identity: no authenticated agent.
var Anonymous = Identity{}

// AgentIdentity returns an identity for an authenticated agent.
func AgentIdentity(agentID string) Identity {
	return Identity{agentID: agentID}
}

// IsAgent reports whether the identity is an authenticated agent.
func (i Identity) IsAgent() bool {
	return i.agentID != ""
}

// AgentID returns the agent ID, or the empty string for Anonymous.
func (i Identity) AgentID() string {
	return i.agentID
}

// TokenResponse carries a freshly issued agent access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
