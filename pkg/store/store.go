// Package store persists users, repositories, scan records and alerts in a
// sqlite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/gitwizard/gitwizard/pkg/scanner/rules"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert violates a uniqueness constraint,
// e.g. two concurrent connects for the same repository.
var ErrConflict = errors.New("record already exists")

type User struct {
	ID        string
	Email     string
	Name      string
	GitHubID  string
	Plan      string
	CreatedAt time.Time
}

type Repository struct {
	ID         string
	UserID     string
	GitHubID   int64
	Name       string
	FullName   string
	Private    bool
	WebhookID  int64
	WebhookURL string
	IsActive   bool
	CreatedAt  time.Time
}

// ScanRecord is the durable form of an accepted finding, tied to a commit.
type ScanRecord struct {
	ID            string
	RepositoryID  string
	CommitSHA     string
	CommitMessage string
	CommitURL     string
	Kind          rules.Kind
	Value         string
	FilePath      string
	LineNumber    int
	Resolved      bool
	CreatedAt     time.Time
}

const (
	AlertChannelEmail = "email"

	AlertStatusPending = "pending"
	AlertStatusSent    = "sent"
	AlertStatusFailed  = "failed"
)

type Alert struct {
	ID           string
	UserID       string
	ScanRecordID string
	Channel      string
	Status       string
	SentAt       sql.NullTime
	CreatedAt    time.Time
}

// Store wraps the sqlite connection.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (creating if needed) the database at path and ensures the schema.
func New(path string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed for %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Database initialized and schema verified")
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		github_id TEXT,
		plan TEXT NOT NULL DEFAULT 'free',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		github_id INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		private INTEGER NOT NULL DEFAULT 0,
		webhook_id INTEGER,
		webhook_url TEXT,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS secret_scans (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL REFERENCES repositories(id),
		commit_sha TEXT NOT NULL,
		commit_message TEXT NOT NULL,
		commit_url TEXT NOT NULL,
		secret_type TEXT NOT NULL,
		secret_value TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line_number INTEGER NOT NULL,
		is_resolved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		secret_scan_id TEXT NOT NULL REFERENCES secret_scans(id),
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		sent_at DATETIME,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// AddUser inserts a new user and returns the stored row.
func (s *Store) AddUser(email, name, githubID, userPlan string) (User, error) {
	user := User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		GitHubID:  githubID,
		Plan:      userPlan,
		CreatedAt: time.Now().UTC(),
	}
	if user.Plan == "" {
		user.Plan = "free"
	}

	_, err := s.db.Exec(
		`INSERT INTO users (id, email, name, github_id, plan, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.GitHubID, user.Plan, user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %s: %w", email, ErrConflict)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// GetUserByID returns the user with the given id or ErrNotFound.
func (s *Store) GetUserByID(id string) (User, error) {
	var user User
	err := s.db.QueryRow(
		`SELECT id, email, name, github_id, plan, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.GitHubID, &user.Plan, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// AddRepository inserts a connected repository in inactive state; it becomes
// active once its webhook registration succeeds.
func (s *Store) AddRepository(userID string, githubID int64, name, fullName string, private bool) (Repository, error) {
	repo := Repository{
		ID:        uuid.NewString(),
		UserID:    userID,
		GitHubID:  githubID,
		Name:      name,
		FullName:  fullName,
		Private:   private,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO repositories (id, user_id, github_id, name, full_name, private, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		repo.ID, repo.UserID, repo.GitHubID, repo.Name, repo.FullName, repo.Private, repo.CreatedAt,
	)
	if isUniqueViolation(err) {
		return Repository{}, fmt.Errorf("repository %s: %w", fullName, ErrConflict)
	}
	if err != nil {
		return Repository{}, fmt.Errorf("failed to insert repository: %w", err)
	}
	return repo, nil
}

// GetRepositoryByGitHubID resolves a repository by its remote numeric id.
func (s *Store) GetRepositoryByGitHubID(githubID int64) (Repository, error) {
	var (
		repo       Repository
		webhookID  sql.NullInt64
		webhookURL sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT id, user_id, github_id, name, full_name, private, webhook_id, webhook_url, is_active, created_at
		 FROM repositories WHERE github_id = ?`, githubID,
	).Scan(&repo.ID, &repo.UserID, &repo.GitHubID, &repo.Name, &repo.FullName,
		&repo.Private, &webhookID, &webhookURL, &repo.IsActive, &repo.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Repository{}, fmt.Errorf("repository github_id=%d: %w", githubID, ErrNotFound)
	}
	if err != nil {
		return Repository{}, fmt.Errorf("failed to query repository: %w", err)
	}
	repo.WebhookID = webhookID.Int64
	repo.WebhookURL = webhookURL.String
	return repo, nil
}

// UpdateRepositoryWebhook records the remote hook binding and activates the
// repository.
func (s *Store) UpdateRepositoryWebhook(id string, webhookID int64, webhookURL string) error {
	res, err := s.db.Exec(
		`UPDATE repositories SET webhook_id = ?, webhook_url = ?, is_active = 1 WHERE id = ?`,
		webhookID, webhookURL, id,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("repository %s webhook binding: %w", id, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update repository webhook: %w", err)
	}
	return requireRowAffected(res, id)
}

// DeactivateRepository clears the webhook binding and marks the repository
// inactive. Scan records are kept.
func (s *Store) DeactivateRepository(id string) error {
	res, err := s.db.Exec(
		`UPDATE repositories SET webhook_id = NULL, webhook_url = NULL, is_active = 0 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate repository: %w", err)
	}
	return requireRowAffected(res, id)
}

// RemoveRepository deletes a repository row. Used only to clean up a connect
// attempt whose webhook registration failed.
func (s *Store) RemoveRepository(id string) error {
	res, err := s.db.Exec(`DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove repository: %w", err)
	}
	return requireRowAffected(res, id)
}

// ListUserRepositories returns all repositories connected by a user.
func (s *Store) ListUserRepositories(userID string) ([]Repository, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, github_id, name, full_name, private, webhook_id, webhook_url, is_active, created_at
		 FROM repositories WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	repos := []Repository{}
	for rows.Next() {
		var (
			repo       Repository
			webhookID  sql.NullInt64
			webhookURL sql.NullString
		)
		if err := rows.Scan(&repo.ID, &repo.UserID, &repo.GitHubID, &repo.Name, &repo.FullName,
			&repo.Private, &webhookID, &webhookURL, &repo.IsActive, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository row: %w", err)
		}
		repo.WebhookID = webhookID.Int64
		repo.WebhookURL = webhookURL.String
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// CountUserRepositories counts a user's active repositories for plan limit
// checks. Disconnected rows are retained for their scan history but do not
// occupy a plan slot.
func (s *Store) CountUserRepositories(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM repositories WHERE user_id = ? AND is_active = 1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count repositories: %w", err)
	}
	return count, nil
}

// AddScanRecord persists an accepted finding.
func (s *Store) AddScanRecord(record ScanRecord) (ScanRecord, error) {
	record.ID = uuid.NewString()
	record.Resolved = false
	record.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO secret_scans (id, repository_id, commit_sha, commit_message, commit_url,
		 secret_type, secret_value, file_path, line_number, is_resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		record.ID, record.RepositoryID, record.CommitSHA, record.CommitMessage, record.CommitURL,
		string(record.Kind), record.Value, record.FilePath, record.LineNumber, record.CreatedAt,
	)
	if err != nil {
		return ScanRecord{}, fmt.Errorf("failed to insert scan record: %w", err)
	}
	return record, nil
}

// ResolveScanRecord marks a scan record handled by the owner.
func (s *Store) ResolveScanRecord(id string) error {
	res, err := s.db.Exec(`UPDATE secret_scans SET is_resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve scan record: %w", err)
	}
	return requireRowAffected(res, id)
}

// ListRecentScans returns the newest scan records for a repository.
func (s *Store) ListRecentScans(repositoryID string, limit int) ([]ScanRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, repository_id, commit_sha, commit_message, commit_url, secret_type,
		 secret_value, file_path, line_number, is_resolved, created_at
		 FROM secret_scans WHERE repository_id = ? ORDER BY created_at DESC LIMIT ?`,
		repositoryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan records: %w", err)
	}
	defer rows.Close()

	records := []ScanRecord{}
	for rows.Next() {
		var (
			record ScanRecord
			kind   string
		)
		if err := rows.Scan(&record.ID, &record.RepositoryID, &record.CommitSHA, &record.CommitMessage,
			&record.CommitURL, &kind, &record.Value, &record.FilePath, &record.LineNumber,
			&record.Resolved, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		record.Kind = rules.Kind(kind)
		records = append(records, record)
	}
	return records, rows.Err()
}

// AddAlert creates a pending alert for a scan record.
func (s *Store) AddAlert(userID, scanRecordID, channel string) (Alert, error) {
	alert := Alert{
		ID:           uuid.NewString(),
		UserID:       userID,
		ScanRecordID: scanRecordID,
		Channel:      channel,
		Status:       AlertStatusPending,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO alerts (id, user_id, secret_scan_id, channel, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, alert.ScanRecordID, alert.Channel, alert.Status, alert.CreatedAt,
	)
	if err != nil {
		return Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	return alert, nil
}

// UpdateAlertStatus transitions an alert to sent or failed. Both states are
// terminal; no retry logic lives here.
func (s *Store) UpdateAlertStatus(id, status string, sentAt *time.Time) error {
	var sent sql.NullTime
	if sentAt != nil {
		sent = sql.NullTime{Time: sentAt.UTC(), Valid: true}
	}

	res, err := s.db.Exec(`UPDATE alerts SET status = ?, sent_at = ? WHERE id = ?`, status, sent, id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	return requireRowAffected(res, id)
}

// GetAlert returns an alert by id or ErrNotFound.
func (s *Store) GetAlert(id string) (Alert, error) {
	var alert Alert
	err := s.db.QueryRow(
		`SELECT id, user_id, secret_scan_id, channel, status, sent_at, created_at FROM alerts WHERE id = ?`, id,
	).Scan(&alert.ID, &alert.UserID, &alert.ScanRecordID, &alert.Channel, &alert.Status, &alert.SentAt, &alert.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Alert{}, fmt.Errorf("failed to query alert: %w", err)
	}
	return alert, nil
}

func requireRowAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("id %s: %w", id, ErrNotFound)
	}
	return nil
}
