// Package credential reads upstream bearer tokens stored per user.
//
// Tokens are issued by a separate login flow. This package only reports
// whether the stored token is still inside its validity window; it never
// renews one.
package credential

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"golang.org/x/oauth2"

	"github.com/fieldfin/taskfin/schema"
)

// Validity is how long an issued upstream token is trusted.
const Validity = 28 * time.Minute

var (
	// ErrMissingUser is returned when no user id was supplied.
	ErrMissingUser = errors.New("missing user id")
	// ErrUnknownUser is returned when the user has no upstream account.
	ErrUnknownUser = errors.New("unknown user")
	// ErrTokenExpired is returned when the stored token is absent or too old.
	ErrTokenExpired = errors.New("upstream token expired or missing")
)

// Account is a user's upstream account row.
type Account struct {
	ID          string
	User        string
	BearerToken string
	ObtainedAt  time.Time
	LastSyncAt  time.Time
	LastRunID   string
}

// Valid reports whether the token is present and younger than Validity at now.
func (a Account) Valid(now time.Time) bool {
	if a.BearerToken == "" || a.ObtainedAt.IsZero() {
		return false
	}
	age := now.Sub(a.ObtainedAt)
	return age >= 0 && age < Validity
}

// Token returns the stored bearer token as an oauth2 token.
func (a Account) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: a.BearerToken,
		TokenType:   "Bearer",
		Expiry:      a.ObtainedAt.Add(Validity),
	}
}

// Store reads and updates upstream accounts.
type Store struct {
	app core.App
	now func() time.Time
}

// NewStore creates an account store backed by app.
func NewStore(app core.App) *Store {
	return &Store{app: app, now: time.Now}
}

// SetClock overrides the clock used for validity checks.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Account loads the account for userID.
func (s *Store) Account(userID string) (*Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}

	record, err := s.app.FindFirstRecordByFilter(schema.Accounts, "user = {:user}", dbx.Params{"user": userID})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		return nil, fmt.Errorf("loading account for %s: %w", userID, err)
	}
	return accountFromRecord(record), nil
}

// Token returns a currently valid token for userID, or a precondition error.
func (s *Store) Token(userID string) (*oauth2.Token, error) {
	acct, err := s.Account(userID)
	if err != nil {
		return nil, err
	}
	if !acct.Valid(s.now()) {
		return nil, fmt.Errorf("%w: %s", ErrTokenExpired, acct.User)
	}
	return acct.Token(), nil
}

// ValidAccounts lists every account whose token is currently valid.
func (s *Store) ValidAccounts() ([]Account, error) {
	records, err := s.app.FindAllRecords(schema.Accounts, dbx.Not(dbx.HashExp{"bearer_token": ""}))
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	now := s.now()
	var valid []Account
	for _, r := range records {
		acct := accountFromRecord(r)
		if acct.Valid(now) {
			valid = append(valid, *acct)
		}
	}
	return valid, nil
}

// SaveToken stores a freshly issued token for userID, creating the account if needed.
func (s *Store) SaveToken(userID, token string, obtainedAt time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}

	record, err := s.app.FindFirstRecordByFilter(schema.Accounts, "user = {:user}", dbx.Params{"user": userID})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loading account for %s: %w", userID, err)
		}
		col, err := s.app.FindCollectionByNameOrId(schema.Accounts)
		if err != nil {
			return fmt.Errorf("finding collection %s: %w", schema.Accounts, err)
		}
		record = core.NewRecord(col)
		record.Set("user", userID)
	}

	record.Set("bearer_token", token)
	record.Set("token_obtained_at", obtainedAt.UTC())
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("saving token for %s: %w", userID, err)
	}
	return nil
}

// MarkSynced stamps the account with the time and id of a committed run.
// app may be a transactional app so the stamp commits with the run.
func MarkSynced(app core.App, userID, runID string, at time.Time) error {
	record, err := app.FindFirstRecordByFilter(schema.Accounts, "user = {:user}", dbx.Params{"user": userID})
	if err != nil {
		return fmt.Errorf("loading account for %s: %w", userID, err)
	}
	record.Set("last_sync_at", at.UTC())
	record.Set("last_run_id", runID)
	if err := app.Save(record); err != nil {
		return fmt.Errorf("stamping account %s: %w", userID, err)
	}
	return nil
}

func accountFromRecord(r *core.Record) *Account {
	return &Account{
		ID:          r.Id,
		User:        r.GetString("user"),
		BearerToken: r.GetString("bearer_token"),
		ObtainedAt:  timeOf(r.GetDateTime("token_obtained_at")),
		LastSyncAt:  timeOf(r.GetDateTime("last_sync_at")),
		LastRunID:   r.GetString("last_run_id"),
	}
}

func timeOf(dt types.DateTime) time.Time {
	if dt.IsZero() {
		return time.Time{}
	}
	return dt.Time()
}
