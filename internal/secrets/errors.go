package secrets

import "errors"

var (
	// ErrInvalidFormat is returned when a payload does not have the
	// <nonce>.<tag>.<ciphertext> shape or a component is not valid base64.
	ErrInvalidFormat = errors.New("invalid encrypted payload format")

	// ErrDecryptionFailed is returned when no candidate key authenticates
	// the payload.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnknownKeyVersion is returned when a payload names a key version
	// that is not in the ring.
	ErrUnknownKeyVersion = errors.New("unknown key version")
)
