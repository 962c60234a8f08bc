// ABOUTME: End-to-end encryption setup for the Matrix client
// ABOUTME: Wires mautrix cryptohelper with a per-user SQLite store and optional recovery key

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// Crypto owns the E2EE state of a Client.
type Crypto struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// EnableCrypto turns on E2EE for c. The crypto store lives in dataDir.
// A non-empty recoveryKey is used for cross-signing verification; failing
// that verification is logged and encryption stays enabled.
func EnableCrypto(ctx context.Context, c *Client, recoveryKey, dataDir string) (*Crypto, error) {
	logger := c.logger.With("subsystem", "crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	if c.mx.DeviceID == "" {
		resp, err := c.mx.Whoami(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving device id: %w", err)
		}
		c.mx.DeviceID = resp.DeviceID
	}

	userID := c.mx.UserID.String()
	dbPath := CryptoStorePath(dataDir, userID)
	logger.Info("setting up encryption", "db", dbPath, "device_id", c.mx.DeviceID.String())

	if stale, err := storeDeviceMismatch(dbPath, c.mx.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device id", "error", err)
	} else if stale {
		logger.Warn("device id changed, resetting crypto store")
		if err := removeStore(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(c.mx, storeKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	c.mx.Crypto = helper

	cr := &Crypto{helper: helper, logger: logger}

	if recoveryKey == "" {
		logger.Info("encryption initialized (no recovery key - cross-signing disabled)")
		return cr, nil
	}
	if err := cr.verify(ctx, recoveryKey); err != nil {
		logger.Warn("failed to verify with recovery key", "error", err)
	} else {
		logger.Info("encryption initialized with cross-signing verification")
	}
	return cr, nil
}

func (cr *Crypto) verify(ctx context.Context, recoveryKey string) error {
	machine := cr.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification failed: %w", err)
	}
	return nil
}

// Close releases the crypto store.
func (cr *Crypto) Close() error {
	if cr == nil || cr.helper == nil {
		return nil
	}
	return cr.helper.Close()
}

// CryptoStorePath returns the crypto database path for a user.
func CryptoStorePath(dataDir, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("writer-crypto-%s.db", slugify(userID)))
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @writer:matrix.org -> writer_matrix.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '.', ch == '-', ch == '_':
			out = append(out, ch)
		case ch == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// storeKey derives the per-user pickle key for the crypto store.
func storeKey(userID string) []byte {
	h := sha256.Sum256([]byte("coven-writer-crypto:" + userID))
	return h[:]
}

// storeDeviceMismatch reports whether an existing crypto store belongs to
// another device. A new login gets a new device id and the old keys are useless.
func storeDeviceMismatch(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}

func removeStore(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}
