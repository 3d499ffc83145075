package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// ProjectAll grants access to every project, the config routes included.
const ProjectAll = "all"

// Argon2id parameters of newly hashed passwords. Verification reads the
// parameters from the encoded hash.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

var ErrInvalidHash = errors.New("invalid password hash")

// Credential is one basic-auth user of the credentials file.
type Credential struct {
	Username string `yaml:"username"`

	// PasswordHash is an argon2id hash in PHC string format, as produced by HashPassword.
	PasswordHash string `yaml:"password_hash"`

	// Project is the single project the user may access, or ProjectAll.
	Project string `yaml:"project"`
}

// LoadCredentials reads a YAML credentials file:
//
//	users:
//	  - username: ci
//	    password_hash: $argon2id$v=19$m=65536,t=1,p=4$...$...
//	    project: infra
func LoadCredentials(path string) (map[string]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	return ParseCredentials(f)
}

// ParseCredentials decodes and validates a credentials document.
func ParseCredentials(r io.Reader) (map[string]Credential, error) {
	var data struct {
		Users []Credential `yaml:"users"`
	}
	if err := yaml.NewDecoder(r).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode credentials YAML: %w", err)
	}

	result := make(map[string]Credential, len(data.Users))
	for _, user := range data.Users {
		if user.Username == "" {
			return nil, errors.New("credential without username")
		}
		if _, exists := result[user.Username]; exists {
			return nil, fmt.Errorf("duplicate user %s", user.Username)
		}
		if user.Project == "" || strings.Contains(user.Project, "/") {
			return nil, fmt.Errorf("invalid project %q for user %s", user.Project, user.Username)
		}
		if _, _, err := decodeHash(user.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %s: %w", user.Username, err)
		}
		result[user.Username] = user
	}
	return result, nil
}

// HashPassword returns an argon2id hash of password in PHC string format.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword checks password against an encoded argon2id hash in
// constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	p, salt, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	expected, err := base64.RawStdEncoding.DecodeString(p.key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

type hashParams struct {
	memory  uint32
	time    uint32
	threads uint8
	key     string
}

func decodeHash(encoded string) (hashParams, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return hashParams{}, nil, fmt.Errorf("%w: not an argon2id hash", ErrInvalidHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return hashParams{}, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return hashParams{}, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	var p hashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return hashParams{}, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return hashParams{}, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	p.key = parts[5]
	if p.key == "" {
		return hashParams{}, nil, fmt.Errorf("%w: empty key", ErrInvalidHash)
	}
	return p, salt, nil
}
