package secrets

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"gopkg.in/yaml.v3"

	"github.com/revittco/cshub/internal/config"
)

// LegacyVersion names the single pre-ring key accepted through
// LEGACY_ENCRYPTION_KEY.
const LegacyVersion = "legacy"

const ageBinaryHeader = "age-encryption.org/v1"

// ParseKeyRing parses a comma separated "version:base64key" list.
func ParseKeyRing(s string) ([]Key, error) {
	var keys []Key
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		version, encoded, ok := strings.Cut(entry, versionSep)
		if !ok {
			return nil, config.Invalidf("key ring entry must be version:base64key")
		}
		k, err := decodeKey(strings.TrimSpace(version), strings.TrimSpace(encoded))
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func decodeKey(version, encoded string) (Key, error) {
	if err := validateVersion(version); err != nil {
		return Key{}, err
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Key{}, config.Invalidf("key %q is not valid base64", version)
	}
	if len(secret) != KeySize {
		return Key{}, config.Invalidf("key %q must be %d bytes, got %d", version, KeySize, len(secret))
	}
	return Key{Version: version, Secret: secret}, nil
}

// keyRingFile is the YAML layout of a key ring file.
type keyRingFile struct {
	Active string `yaml:"active"`
	Keys   []struct {
		Version string `yaml:"version"`
		Key     string `yaml:"key"`
	} `yaml:"keys"`
}

// LoadKeyRingFile reads a YAML key ring file. If the file is age encrypted
// (armored or binary), identityPath must name an age identity file.
func LoadKeyRingFile(path, identityPath string) (keys []Key, active string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", config.Invalidf("read key ring file: %v", err)
	}

	if isAgeEncrypted(data) {
		data, err = openSealed(data, identityPath)
		if err != nil {
			return nil, "", err
		}
	}

	return ParseKeyRingFile(data)
}

// ParseKeyRingFile decodes plaintext key ring YAML.
func ParseKeyRingFile(data []byte) (keys []Key, active string, err error) {
	var f keyRingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, "", config.Invalidf("parse key ring file: %v", err)
	}
	for _, e := range f.Keys {
		k, err := decodeKey(e.Version, e.Key)
		if err != nil {
			return nil, "", err
		}
		keys = append(keys, k)
	}
	return keys, f.Active, nil
}

func isAgeEncrypted(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte(armor.Header)) ||
		bytes.HasPrefix(trimmed, []byte(ageBinaryHeader))
}

func openSealed(data []byte, identityPath string) ([]byte, error) {
	if identityPath == "" {
		return nil, config.Invalidf("key ring file is age encrypted but no identity is configured")
	}
	idf, err := os.Open(identityPath)
	if err != nil {
		return nil, config.Invalidf("open age identity: %v", err)
	}
	defer idf.Close()

	ids, err := age.ParseIdentities(idf)
	if err != nil {
		return nil, config.Invalidf("parse age identity: %v", err)
	}

	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	}
	r, err := age.Decrypt(src, ids...)
	if err != nil {
		return nil, config.Invalidf("decrypt key ring file: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, config.Invalidf("read decrypted key ring: %v", err)
	}
	return out, nil
}

// SealKeyRing writes plaintext key ring YAML to w as an armored age file
// readable by any of the given recipients.
func SealKeyRing(w io.Writer, plaintext []byte, recipients ...string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	rs := make([]age.Recipient, 0, len(recipients))
	for _, s := range recipients {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("parse recipient: %w", err)
		}
		rs = append(rs, r)
	}

	aw := armor.NewWriter(w)
	ew, err := age.Encrypt(aw, rs...)
	if err != nil {
		return fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := ew.Write(plaintext); err != nil {
		return fmt.Errorf("write key ring: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("close age writer: %w", err)
	}
	return aw.Close()
}

// GenerateKey returns a fresh "version:base64key" ring entry.
func GenerateKey(version string) (string, error) {
	if err := validateVersion(version); err != nil {
		return "", err
	}
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return version + versionSep + base64.StdEncoding.EncodeToString(secret), nil
}

// NewCodecFromConfig assembles the key ring from the configured sources in
// this order: KEYRING entries, key ring file entries, then the legacy key.
// The active version is ACTIVE_KEY_VERSION, else the file's active entry,
// else the first key.
func NewCodecFromConfig(cfg config.KeyConfig) (*Codec, error) {
	keys, err := ParseKeyRing(cfg.KeyRing)
	if err != nil {
		return nil, err
	}

	active := cfg.ActiveVersion
	if cfg.KeyRingFile != "" {
		fileKeys, fileActive, err := LoadKeyRingFile(cfg.KeyRingFile, cfg.AgeIdentityFile)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fileKeys...)
		if active == "" {
			active = fileActive
		}
	}

	if cfg.LegacyKey != "" {
		k, err := decodeKey(LegacyVersion, strings.TrimSpace(cfg.LegacyKey))
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return NewCodec(keys, active)
}

// ReadIdentityRecipient returns the public recipient of the first X25519
// identity in an age identity file.
func ReadIdentityRecipient(identityPath string) (string, error) {
	f, err := os.Open(identityPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := age.ParseX25519Identity(line)
		if err != nil {
			return "", fmt.Errorf("parse identity: %w", err)
		}
		return id.Recipient().String(), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no identity found in %s", identityPath)
}
