package auth

// CodeVerifier checks a second-factor code against the user's decrypted
// secret.
type CodeVerifier interface {
	Verify(secret, code string) bool
}

// RejectAllVerifier is used until a TOTP provider is configured.
type RejectAllVerifier struct{}

func (RejectAllVerifier) Verify(string, string) bool { return false }
