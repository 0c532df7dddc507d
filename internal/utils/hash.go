package utils

import "golang.org/x/crypto/bcrypt"

// Work factors for the two kinds of secrets we hash.
const (
	PasswordCost = 12
	OTPCost      = 10
)

// Hasher hashes secrets one way and checks candidates against a digest.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// BcryptHasher is a Hasher backed by bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

// NewPasswordHasher returns the hasher used for account passwords.
func NewPasswordHasher() BcryptHasher {
	return BcryptHasher{Cost: PasswordCost}
}

// NewOTPHasher returns the cheaper hasher used for short-lived codes.
func NewOTPHasher() BcryptHasher {
	return BcryptHasher{Cost: OTPCost}
}

// Hash returns a salted bcrypt digest of plaintext.
func (b BcryptHasher) Hash(plaintext string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	return string(bytes), err
}

// Verify compares a bcrypt digest with its possible plaintext equivalent.
// Malformed digests simply fail to match.
func (b BcryptHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
