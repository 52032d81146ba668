package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the lowest cost accepted for stored device keys and PINs
const MinBcryptCost = 10

// GenerateKey returns a random URL-safe key of n random bytes.
// 32 bytes gives the 43 character keys flashed into device firmware.
func GenerateKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret hashes a device key or PIN with bcrypt
func HashSecret(secret string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckSecret compares a plaintext secret against a bcrypt hash
func CheckSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// LookupHash is the SHA-256 used to index owner API keys
func LookupHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// OwnerPinSalt is the salt devices use to verify operator PINs offline
func OwnerPinSalt(ownerID uint) string {
	return fmt.Sprintf("owner-%d", ownerID)
}

// PinDigest is the device-verifiable PIN hash distributed in the operator directory
func PinDigest(salt, pin string) string {
	sum := sha256.Sum256([]byte(salt + ":" + pin))
	return hex.EncodeToString(sum[:])
}
