// ABOUTME: End-to-end encryption setup for the tubeagent Matrix bridge
// ABOUTME: Keeps the mautrix crypto store in SQLite and resets it on device ID changes

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the crypto helper attached to the Matrix client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE on client. Each bot account gets its own crypto
// database under dataDir. A recovery key, when set, is used to verify this
// device for cross-signing; failing that is logged, not fatal.
func SetupCrypto(ctx context.Context, client *mautrix.Client, userID, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	logger = logger.With("component", "crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	if stale, err := deviceChanged(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not read stored device ID", "error", err)
	} else if stale {
		logger.Warn("device ID changed since last run, resetting crypto database")
		if err := removeDatabase(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}

	if recoveryKey == "" {
		logger.Info("encryption initialized without cross-signing")
		return cm, nil
	}

	machine := helper.Machine()
	if machine == nil {
		logger.Warn("crypto machine not initialized, skipping recovery key verification")
		return cm, nil
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed", "error", err)
	} else {
		logger.Info("device verified with recovery key")
	}
	return cm, nil
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm.helper != nil {
		return cm.helper.Close()
	}
	return nil
}

// deviceChanged reports whether the crypto database at dbPath belongs to a
// device other than deviceID. A missing database or account is not a change.
func deviceChanged(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
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

// removeDatabase deletes a SQLite database and its WAL files.
func removeDatabase(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @tubebot:matrix.org -> tubebot_matrix.org
func slugify(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		case c == ':':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// storeKey derives the pickle key for the crypto store from the user ID.
func storeKey(userID string) []byte {
	h := sha256.Sum256([]byte("tubeagent-matrix-crypto:" + userID))
	return h[:]
}
