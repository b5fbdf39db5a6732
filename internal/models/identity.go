package models

// AnonymousUsername is the name grants for unauthenticated callers are
// stored under.
const AnonymousUsername = "AnonymousUser"

// Identity is the caller a request acts for.
type Identity struct {
	Username string
}

// Anonymous returns the unauthenticated identity.
func Anonymous() Identity {
	return Identity{Username: AnonymousUsername}
}

// IsAnonymous reports whether the caller is unauthenticated.
func (i Identity) IsAnonymous() bool {
	return i.Username == "" || i.Username == AnonymousUsername
}
