package remote

// Session exposes the current authenticated identity. An empty UserID means
// no user is signed in; every write path checks this before touching state.
type Session interface {
	UserID() string
	AccessToken() string
}

// StaticSession is a fixed identity loaded from the profile config.
type StaticSession struct {
	ID    string
	Token string
}

func (s StaticSession) UserID() string      { return s.ID }
func (s StaticSession) AccessToken() string { return s.Token }
