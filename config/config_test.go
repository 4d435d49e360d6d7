package config

import (
	"os"
	"strings"
	"testing"
)

func newTestAsserter(t *testing.T) *Asserter {
	t.Helper()
	cfg, err := NewAsserter("unit", t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := newTestAsserter(t)
	if cfg.AssertionType() != TypePlain {
		t.Fatalf("default assertion type: %q", cfg.AssertionType())
	}
	if cfg.AssertionHeader() != "oam_remote_user" {
		t.Fatalf("default assertion header: %q", cfg.AssertionHeader())
	}
	for name, value := range map[string]string{
		"data source":      cfg.DataSource(),
		"principal query":  cfg.PrincipalQuery(),
		"permission query": cfg.PermissionQuery(),
	} {
		if value == "" {
			t.Fatalf("default %s must not be empty", name)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestRealmMustNotBeEmpty(t *testing.T) {
	if _, err := NewAsserter("  ", t.TempDir()); err == nil {
		t.Fatal("expected an error for a blank realm")
	}
}

func TestSaveRefreshRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewAsserter("unit", dir)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.SetAssertionType(TypeBearer)
	cfg.SetSigningLocation("https://issuer.example/jwks")
	cfg.SetOAuthDomain("IdentityDomain")
	cfg.SetOAuthAudience([]string{"app-one", "app-two"})
	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewAsserter("unit", dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.AssertionType() != TypeBearer {
		t.Fatalf("assertion type not persisted: %q", reloaded.AssertionType())
	}
	if reloaded.SigningLocation() != "https://issuer.example/jwks" {
		t.Fatalf("signing location not persisted: %q", reloaded.SigningLocation())
	}
	audience := reloaded.OAuthAudience()
	if len(audience) != 2 || audience[0] != "app-one" || audience[1] != "app-two" {
		t.Fatalf("audience list not persisted: %v", audience)
	}
}

func TestRefreshRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewAsserter("unit", dir)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if err := os.WriteFile(cfg.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cfg.Refresh(); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestSaveRefusesInvalidConfiguration(t *testing.T) {
	cfg := newTestAsserter(t)
	cfg.SetAssertionHeader("")
	if err := cfg.Save(); err == nil {
		t.Fatal("expected validation to block the save")
	}
	if _, err := os.Stat(cfg.Path()); !os.IsNotExist(err) {
		t.Fatal("invalid configuration must not reach the file system")
	}
}

func TestValidateKeyMaterialExclusive(t *testing.T) {
	cfg := newTestAsserter(t)
	cfg.SetAssertionType(TypeBearer)

	// neither defined
	if err := cfg.Validate(); err == nil {
		t.Fatal("bearer assertion without key material must not validate")
	}

	// both defined
	cfg.SetSigningMaterial("-----BEGIN PUBLIC KEY-----")
	cfg.SetSigningLocation("/etc/keys")
	if err := cfg.Validate(); err == nil {
		t.Fatal("material and location together must not validate")
	}

	// exactly one
	cfg.SetSigningLocation("")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("inline material alone must validate: %v", err)
	}
}

func TestValidateNetworkLocationNeedsDomain(t *testing.T) {
	cfg := newTestAsserter(t)
	cfg.SetAssertionType(TypeBearer)
	cfg.SetSigningLocation("https://issuer.example/jwks")

	err := cfg.Validate()
	if err == nil {
		t.Fatal("remote key set without an identity domain must not validate")
	}
	if !strings.Contains(err.Error(), KeyOAuthDomain) {
		t.Fatalf("violation should name the missing property: %v", err)
	}

	cfg.SetOAuthDomain("IdentityDomain")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// a filesystem location carries no domain requirement
	cfg.SetSigningLocation("/etc/keys")
	cfg.SetOAuthDomain("")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestExtendRejectsUnsupportedValues(t *testing.T) {
	cfg := newTestAsserter(t)
	if err := cfg.Extend(map[string]any{KeyOAuthAudience: []any{"ok", 42}}); err == nil {
		t.Fatal("expected a type error")
	}
	if err := cfg.Extend(map[string]any{KeyOAuthAudience: []string{"app-one"}}); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !cfg.Contains(KeyOAuthAudience) {
		t.Fatal("extended property should be visible")
	}
}
