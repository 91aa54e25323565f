package config

import (
	"context"
	"strings"
	"testing"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/storage/sqlite"
)

func TestBootstrapSeedsSessions(t *testing.T) {
	store, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Default()
	cfg.Sessions = []SessionEntry{
		{Subject: "alice", Token: "wdn_alice_token", Tier: "elevated"},
		{Subject: "bob", Token: "wdn_bob_token"}, // tier defaults to standard
		{Subject: "", Token: "wdn_orphan"},       // skipped, no subject
		{Subject: "carol", Token: ""},            // skipped, no token
	}

	ctx := context.Background()
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal(err)
	}

	sess, err := store.GetSessionByTokenHash(ctx, warden.HashToken("wdn_alice_token"))
	if err != nil {
		t.Fatal(err)
	}
	if sess.Subject != "alice" || sess.Tier != warden.TierElevated {
		t.Errorf("session = %+v", sess)
	}

	sess, err = store.GetSessionByTokenHash(ctx, warden.HashToken("wdn_bob_token"))
	if err != nil {
		t.Fatal(err)
	}
	if sess.Tier != warden.TierStandard {
		t.Errorf("bob tier = %v, want standard", sess.Tier)
	}
	firstID := sess.ID

	// Re-running is a no-op for existing tokens.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal(err)
	}
	sess, _ = store.GetSessionByTokenHash(ctx, warden.HashToken("wdn_bob_token"))
	if sess.ID != firstID {
		t.Error("bootstrap should not recreate existing sessions")
	}

	if _, err := store.GetSessionByTokenHash(ctx, warden.HashToken("wdn_orphan")); err == nil {
		t.Error("subjectless entry should be skipped")
	}
}

func TestGenerateToken(t *testing.T) {
	a, b := GenerateToken(), GenerateToken()
	if !strings.HasPrefix(a, warden.SessionTokenPrefix) {
		t.Errorf("token %q missing prefix", a)
	}
	if a == b {
		t.Error("tokens should be unique")
	}
}
