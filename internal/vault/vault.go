// Package vault is the credential vault: encrypted-at-rest key/value storage
// for the access and refresh credentials, behind a swappable interface.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/and161185/sessionkit/internal/crypto/clientcrypto"
	"github.com/and161185/sessionkit/internal/errs"
	"github.com/and161185/sessionkit/internal/storage"
)

// Persisted entry names.
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyBiometric    = "biometric_key"
	KeyAPI          = "api_key"

	saltEntry = "__vault_salt"
)

// ErrLocked is returned when the passphrase does not open existing entries.
var ErrLocked = errors.New("vault: wrong passphrase or corrupted entry")

// Vault stores secrets by key. Get reports ok=false for a missing key and
// Delete of a missing key is a no-op. There is no multi-key transaction.
type Vault interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

// Encrypted seals every value before handing it to a plain storage.Store.
// The entry key is bound as associated data, so a value copied under another
// key fails to open.
type Encrypted struct {
	backend storage.Store
	key     []byte
}

// Open derives the vault key from passphrase and the salt persisted in
// backend, creating the salt on first use.
func Open(ctx context.Context, backend storage.Store, passphrase []byte) (*Encrypted, error) {
	if len(passphrase) == 0 {
		return nil, errs.E(errs.KindValidation, "vault.Open", errors.New("empty passphrase"))
	}
	saltB64, ok, err := backend.Get(ctx, saltEntry)
	if err != nil {
		return nil, errs.E(errs.KindVault, "vault.Open", err)
	}
	var salt []byte
	if ok {
		salt, err = base64.StdEncoding.DecodeString(saltB64)
		if err != nil {
			return nil, errs.E(errs.KindVault, "vault.Open", fmt.Errorf("bad salt: %w", err))
		}
	} else {
		salt, err = clientcrypto.Rand(clientcrypto.SaltLen)
		if err != nil {
			return nil, errs.E(errs.KindVault, "vault.Open", err)
		}
		if err := backend.Set(ctx, saltEntry, base64.StdEncoding.EncodeToString(salt)); err != nil {
			return nil, errs.E(errs.KindVault, "vault.Open", err)
		}
	}
	return &Encrypted{backend: backend, key: clientcrypto.DeriveKey(passphrase, salt)}, nil
}

func (v *Encrypted) Set(ctx context.Context, key, value string) error {
	sealed, err := clientcrypto.Seal(v.key, []byte(key), []byte(value))
	if err != nil {
		return errs.E(errs.KindVault, "vault.Set", err)
	}
	if err := v.backend.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed)); err != nil {
		return errs.E(errs.KindVault, "vault.Set", err)
	}
	return nil
}

func (v *Encrypted) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := v.backend.Get(ctx, key)
	if err != nil {
		return "", false, errs.E(errs.KindVault, "vault.Get", err)
	}
	if !ok {
		return "", false, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", false, errs.E(errs.KindVault, "vault.Get", ErrLocked)
	}
	pt, err := clientcrypto.Open(v.key, []byte(key), sealed)
	if err != nil {
		return "", false, errs.E(errs.KindVault, "vault.Get", ErrLocked)
	}
	return string(pt), true, nil
}

func (v *Encrypted) Delete(ctx context.Context, key string) error {
	if err := v.backend.Delete(ctx, key); err != nil {
		return errs.E(errs.KindVault, "vault.Delete", err)
	}
	return nil
}
