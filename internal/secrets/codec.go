package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/revittco/cshub/internal/config"
)

const (
	// KeySize is the required length of every ring key (AES-256).
	KeySize = 32

	nonceSize  = 12
	tagSize    = 16
	versionSep = ":"
	partSep    = "."
)

// Key is one versioned entry of a key ring.
type Key struct {
	Version string
	Secret  []byte
}

type ringKey struct {
	version string
	aead    cipher.AEAD
}

// Codec encrypts and decrypts opaque secret strings with a versioned key
// ring. Payloads look like <version>:<nonce>.<tag>.<ciphertext> with each
// binary part base64 encoded. Payloads without a version prefix are legacy
// and are tried against every key in ring order.
type Codec struct {
	keys   []ringKey
	active int
	rand   io.Reader
}

// NewCodec builds a Codec from keys. activeVersion selects the key used for
// new encryptions; empty means the first key.
func NewCodec(keys []Key, activeVersion string) (*Codec, error) {
	if len(keys) == 0 {
		return nil, config.Invalidf("key ring is empty")
	}

	c := &Codec{rand: rand.Reader, active: -1}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if err := validateVersion(k.Version); err != nil {
			return nil, err
		}
		if seen[k.Version] {
			return nil, config.Invalidf("duplicate key version %q", k.Version)
		}
		seen[k.Version] = true
		if len(k.Secret) != KeySize {
			return nil, config.Invalidf("key %q must be %d bytes, got %d", k.Version, KeySize, len(k.Secret))
		}
		block, err := aes.NewCipher(k.Secret)
		if err != nil {
			return nil, config.Invalidf("key %q: %v", k.Version, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, config.Invalidf("key %q: %v", k.Version, err)
		}
		if k.Version == activeVersion {
			c.active = len(c.keys)
		}
		c.keys = append(c.keys, ringKey{version: k.Version, aead: aead})
	}

	switch {
	case activeVersion == "":
		c.active = 0
	case c.active < 0:
		return nil, config.Invalidf("active key version %q is not in the key ring", activeVersion)
	}
	return c, nil
}

func validateVersion(v string) error {
	if v == "" {
		return config.Invalidf("key version must not be empty")
	}
	if strings.ContainsAny(v, versionSep+partSep+",") {
		return config.Invalidf("key version %q must not contain ':', '.' or ','", v)
	}
	return nil
}

// ActiveVersion returns the version used for new encryptions.
func (c *Codec) ActiveVersion() string {
	return c.keys[c.active].version
}

// Versions returns the ring's versions in ring order.
func (c *Codec) Versions() []string {
	out := make([]string, len(c.keys))
	for i, k := range c.keys {
		out[i] = k.version
	}
	return out
}

// Encrypt seals plaintext under the active key with a fresh random nonce.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	k := c.keys[c.active]

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := k.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return k.version + versionSep +
		enc.EncodeToString(nonce) + partSep +
		enc.EncodeToString(tag) + partSep +
		enc.EncodeToString(ct), nil
}

// Decrypt opens a payload produced by Encrypt, or a legacy payload without
// a version prefix.
func (c *Codec) Decrypt(payload string) (string, error) {
	version, body, tagged := splitVersion(payload)

	nonce, sealed, err := parseBody(body)
	if err != nil {
		return "", err
	}

	if tagged {
		k, ok := c.key(version)
		if !ok {
			return "", fmt.Errorf("%w %q", ErrUnknownKeyVersion, version)
		}
		pt, err := k.aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			return "", fmt.Errorf("%w with key %q", ErrDecryptionFailed, version)
		}
		return string(pt), nil
	}

	for _, k := range c.keys {
		if pt, err := k.aead.Open(nil, nonce, sealed, nil); err == nil {
			return string(pt), nil
		}
	}
	return "", fmt.Errorf("%w: no key in ring matched legacy payload", ErrDecryptionFailed)
}

// PayloadVersion returns the version tag of payload, or "" for legacy
// payloads.
func (c *Codec) PayloadVersion(payload string) string {
	version, _, _ := splitVersion(payload)
	return version
}

// NeedsRotation reports whether payload is legacy or was sealed with a key
// other than the active one.
func (c *Codec) NeedsRotation(payload string) bool {
	if payload == "" {
		return false
	}
	return c.PayloadVersion(payload) != c.ActiveVersion()
}

func (c *Codec) key(version string) (ringKey, bool) {
	for _, k := range c.keys {
		if k.version == version {
			return k, true
		}
	}
	return ringKey{}, false
}

func splitVersion(payload string) (version, body string, tagged bool) {
	version, body, tagged = strings.Cut(payload, versionSep)
	if !tagged {
		return "", payload, false
	}
	return version, body, true
}

// parseBody decodes <nonce>.<tag>.<ciphertext> into the nonce and the
// ciphertext with the tag appended, as cipher.AEAD expects.
func parseBody(body string) (nonce, sealed []byte, err error) {
	parts := strings.Split(body, partSep)
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("%w: expected 3 parts, got %d", ErrInvalidFormat, len(parts))
	}

	enc := base64.StdEncoding
	nonce, err = enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, nil, fmt.Errorf("%w: bad nonce", ErrInvalidFormat)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, fmt.Errorf("%w: bad tag", ErrInvalidFormat)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad ciphertext", ErrInvalidFormat)
	}
	return nonce, append(ct, tag...), nil
}
