package enums

// TokenStatus tracks the lifecycle of a vaulted payment token.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusDeleted TokenStatus = "deleted"
)

// String implements fmt.Stringer.
func (t TokenStatus) String() string {
	return string(t)
}
