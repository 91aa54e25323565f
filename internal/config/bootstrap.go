package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/google/uuid"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/storage"
)

// Bootstrap seeds the database from the config file on first run.
// Seeded sessions are idempotent: an existing token hash is left alone.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, entry := range cfg.Sessions {
		if entry.Token == "" || entry.Subject == "" {
			continue
		}
		hash := warden.HashToken(entry.Token)

		existing, _ := store.GetSessionByTokenHash(ctx, hash)
		if existing != nil {
			continue
		}

		tier := warden.Tier(entry.Tier)
		if tier == "" {
			tier = warden.TierStandard
		}

		sess := &warden.Session{
			ID:        uuid.Must(uuid.NewV7()).String(),
			TokenHash: hash,
			Subject:   entry.Subject,
			Tier:      tier,
			CreatedAt: time.Now().UTC(),
		}
		if cfg.Auth.SessionTTL > 0 {
			exp := sess.CreatedAt.Add(cfg.Auth.SessionTTL)
			sess.ExpiresAt = &exp
		}
		if err := store.CreateSession(ctx, sess); err != nil {
			return err
		}
		slog.Info("bootstrapped session", "subject", entry.Subject, "tier", tier)
	}
	return nil
}

// GenerateToken creates a random opaque session token and returns the plaintext.
func GenerateToken() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return warden.SessionTokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
