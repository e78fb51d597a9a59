package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"

	"github.com/fieldfin/taskfin/schema"
)

func newTestStore(t *testing.T) (*tests.TestApp, *Store) {
	t.Helper()
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	if err := schema.EnsureCollections(app); err != nil {
		app.Cleanup()
		t.Fatalf("EnsureCollections failed: %v", err)
	}
	return app, NewStore(app)
}

func TestAccount_Valid(t *testing.T) {
	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		acct Account
		now  time.Time
		want bool
	}{
		{"fresh", Account{BearerToken: "t", ObtainedAt: issued}, issued.Add(time.Minute), true},
		{"just inside", Account{BearerToken: "t", ObtainedAt: issued}, issued.Add(Validity - time.Second), true},
		{"at limit", Account{BearerToken: "t", ObtainedAt: issued}, issued.Add(Validity), false},
		{"expired", Account{BearerToken: "t", ObtainedAt: issued}, issued.Add(time.Hour), false},
		{"no token", Account{ObtainedAt: issued}, issued, false},
		{"never issued", Account{BearerToken: "t"}, issued, false},
		{"issued in future", Account{BearerToken: "t", ObtainedAt: issued}, issued.Add(-time.Minute), false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acct.Valid(tt.now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccount_Token(t *testing.T) {
	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := Account{BearerToken: "abc", ObtainedAt: issued}.Token()

	if tok.AccessToken != "abc" || tok.Type() != "Bearer" {
		t.Errorf("token = %+v", tok)
	}
	if !tok.Expiry.Equal(issued.Add(28 * time.Minute)) {
		t.Errorf("Expiry = %v, want issued+28m", tok.Expiry)
	}
}

func TestStore_TokenPreconditions(t *testing.T) {
	app, store := newTestStore(t)
	defer app.Cleanup()

	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })

	if err := store.SaveToken("fresh", "tok-fresh", now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := store.SaveToken("stale", "tok-stale", now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	cases := []struct {
		name    string
		user    string
		wantErr error
	}{
		{"valid", "fresh", nil},
		{"missing user", "  ", ErrMissingUser},
		{"unknown user", "nobody", ErrUnknownUser},
		{"expired", "stale", ErrTokenExpired},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := store.Token(tt.user)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Token() error: %v", err)
				}
				if tok.AccessToken != "tok-fresh" {
					t.Errorf("AccessToken = %q", tok.AccessToken)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Token() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_SaveTokenUpdatesExisting(t *testing.T) {
	app, store := newTestStore(t)
	defer app.Cleanup()

	now := time.Now().UTC()
	if err := store.SaveToken("u1", "old", now.Add(-time.Hour)); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := store.SaveToken("u1", "new", now); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	records, err := app.FindAllRecords(schema.Accounts)
	if err != nil {
		t.Fatalf("FindAllRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d accounts, want 1", len(records))
	}

	acct, err := store.Account("u1")
	if err != nil {
		t.Fatalf("Account() error: %v", err)
	}
	if acct.BearerToken != "new" {
		t.Errorf("BearerToken = %q, want new", acct.BearerToken)
	}
}

func TestStore_ValidAccounts(t *testing.T) {
	app, store := newTestStore(t)
	defer app.Cleanup()

	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })

	_ = store.SaveToken("a", "tok-a", now.Add(-time.Minute))
	_ = store.SaveToken("b", "tok-b", now.Add(-time.Hour))
	_ = store.SaveToken("c", "tok-c", now.Add(-10*time.Minute))

	accounts, err := store.ValidAccounts()
	if err != nil {
		t.Fatalf("ValidAccounts() error: %v", err)
	}

	got := map[string]bool{}
	for _, a := range accounts {
		got[a.User] = true
	}
	if len(got) != 2 || !got["a"] || !got["c"] {
		t.Errorf("ValidAccounts() users = %v, want a and c", got)
	}
}

func TestMarkSynced(t *testing.T) {
	app, store := newTestStore(t)
	defer app.Cleanup()

	now := time.Now().UTC()
	_ = store.SaveToken("u1", "tok", now)

	if err := MarkSynced(app, "u1", "run-1", now); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	acct, err := store.Account("u1")
	if err != nil {
		t.Fatalf("Account() error: %v", err)
	}
	if acct.LastRunID != "run-1" {
		t.Errorf("LastRunID = %q, want run-1", acct.LastRunID)
	}
	if acct.LastSyncAt.IsZero() {
		t.Error("LastSyncAt not set")
	}
}
