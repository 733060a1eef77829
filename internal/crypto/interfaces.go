package crypto

import "crypto/ed25519"

// Signer interface for signing operations
type Signer interface {
	// Sign signs the given data and returns the signature
	Sign(data []byte) ([]byte, error)
	
	// SignBase64 signs data and returns base64-encoded signature
	SignBase64(data []byte) (string, error)
	
	// PublicKey returns the public key associated with this signer
	PublicKey() ed25519.PublicKey
	
	// PublicKeyBase64 returns the public key as base64
	PublicKeyBase64() string
}

// Verifier interface for signature verification
type Verifier interface {
	// Verify verifies a signature against data using the given public key
	Verify(publicKey ed25519.PublicKey, data, signature []byte) bool
	
	// VerifyBase64 verifies a base64-encoded signature
	VerifyBase64(publicKeyB64, signatureB64 string, data []byte) (bool, error)
}

// KeyManager interface for key management operations
type KeyManager interface {
	// GenerateKeyPair generates a new key pair
	GenerateKeyPair() (*Ed25519KeyPair, error)
	
	// ImportKeyPair imports a key pair from seed
	ImportKeyPair(seed []byte) (*Ed25519KeyPair, error)
	
	// ExportSeed exports the seed for a key pair
	ExportSeed(keyPair *Ed25519KeyPair) ([]byte, error)
}

// RandomnessProvider interface for secure random number generation
type RandomnessProvider interface {
	// GenerateRandom generates cryptographically secure random bytes
	GenerateRandom(size int) ([]byte, error)
	
	// GenerateNonce generates a secure nonce
	GenerateNonce() (string, error)
	
	// GenerateSeed generates a seed for key derivation
	GenerateSeed() ([]byte, error)
}