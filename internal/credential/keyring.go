// Package credential stores IMAP passwords and the assistant API key in
// the system keyring.
package credential

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "quill"

// apiKeyEnv overrides the stored assistant key when set.
const apiKeyEnv = "ANTHROPIC_API_KEY"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/quill/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("quill-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// IMAPPassword returns the stored password for an account.
func IMAPPassword(accountID string) (string, error) {
	return Get("imap/" + accountID)
}

// SetIMAPPassword stores an account's password.
func SetIMAPPassword(accountID, password string) error {
	return Set("imap/"+accountID, password)
}

// DeleteIMAPPassword removes an account's stored password, e.g. when the
// account is dropped from the config.
func DeleteIMAPPassword(accountID string) error {
	return Delete("imap/" + accountID)
}

// APIKey returns the assistant API key, preferring the environment over
// the keyring. An empty result means the assistant is disabled.
func APIKey() string {
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key
	}
	key, err := Get("anthropic-api-key")
	if err != nil {
		return ""
	}
	return key
}

// SetAPIKey stores the assistant API key.
func SetAPIKey(key string) error {
	return Set("anthropic-api-key", key)
}
