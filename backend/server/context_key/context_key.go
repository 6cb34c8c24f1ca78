package contextKey

// key is an unexported type for context keys defined in this package, so no
// other package can collide with the values stored under them.
type key int

const (
	// UserIDKey is the context key under which the authenticated user's ID is
	// stored by the JWT middleware.
	UserIDKey key = iota
	// JwtErrorKey is the context key under which a JWT parsing or validation
	// error is stored by the JWT middleware.
	JwtErrorKey
)
