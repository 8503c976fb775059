package datec

// Identity is the already-authenticated caller of an operation.
// A nil *Identity is an anonymous caller.
type Identity struct {
	UserID   string
	Username string
	IsAdmin  bool
}

func (id *Identity) is(userID string) bool {
	return id != nil && id.UserID == userID
}

func (id *Identity) admin() bool {
	return id != nil && id.IsAdmin
}
