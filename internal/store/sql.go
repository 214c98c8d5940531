package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joescharf/bounty/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// sqlx does not know modernc's driver name; it speaks "?" placeholders.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore implements Store on top of database/sql via sqlx. It runs on
// modernc.org/sqlite (pure Go, no CGO) or on Postgres through pgx.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// every transaction, which is what makes UpdateBug atomic on this driver.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLStore{db: db, driver: DriverSQLite}, nil
}

// NewPostgresStore connects to Postgres using the pgx stdlib driver.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLStore{db: db, driver: DriverPostgres}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE filename = ?"), name); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_migrations (filename) VALUES (?)"), name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// --- Bugs ---

const bugColumns = `id, title, description, repo_link, logs, tags, severity, expected_behavior, status,
	bounty, funds_raised, contributors, author_id, assigned_developer_id, ai_score, category, complexity,
	created_at, updated_at`

// bugRow carries the JSON-encoded tags column alongside the bug fields.
type bugRow struct {
	models.Bug
	TagsJSON string `db:"tags"`
}

func (r *bugRow) toBug() (*models.Bug, error) {
	b := r.Bug
	b.Tags = []string{}
	if r.TagsJSON != "" {
		if err := json.Unmarshal([]byte(r.TagsJSON), &b.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for bug %s: %w", b.ID, err)
		}
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *SQLStore) CreateBug(ctx context.Context, bug *models.Bug) error {
	if bug.ID == "" {
		bug.ID = newBugID()
	}
	now := time.Now().UTC()
	bug.CreatedAt = now
	bug.UpdatedAt = now

	tags, err := encodeList(bug.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO bugs (`+bugColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		bug.ID, bug.Title, bug.Description, bug.RepoLink, bug.Logs, tags, string(bug.Severity),
		bug.ExpectedBehavior, string(bug.Status), bug.Bounty, bug.FundsRaised, bug.Contributors,
		bug.AuthorID, bug.AssignedDeveloperID, bug.AIScore, bug.Category, bug.Complexity,
		bug.CreatedAt, bug.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create bug: %w", err)
	}
	return nil
}

func (s *SQLStore) GetBug(ctx context.Context, id string) (*models.Bug, error) {
	return s.getBug(ctx, s.db, id, false)
}

func (s *SQLStore) getBug(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs WHERE id = ?`
	if forUpdate && s.driver == DriverPostgres {
		query += " FOR UPDATE"
	}

	var row bugRow
	err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bugNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bug: %w", err)
	}
	return row.toBug()
}

func (s *SQLStore) ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.AuthorID != "" {
		conditions = append(conditions, "author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if filter.DeveloperID != "" {
		conditions = append(conditions, "assigned_developer_id = ?")
		args = append(args, filter.DeveloperID)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	var rows []bugRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}

	var bugs []*models.Bug
	for i := range rows {
		b, err := rows[i].toBug()
		if err != nil {
			return nil, err
		}
		// Tags live in a JSON column, so the tag filter runs after decoding.
		if filter.Tag != "" && !filter.Matches(b) {
			continue
		}
		bugs = append(bugs, b)
	}
	return bugs, nil
}

func (s *SQLStore) UpdateBug(ctx context.Context, id string, fn MutateFunc) (*models.Bug, error) {
	return s.mutate(ctx, id, func(b *models.Bug, _ *Writes) error { return fn(b) })
}

func (s *SQLStore) UpdateBugWith(ctx context.Context, id string, fn WriteFunc) (*models.Bug, error) {
	return s.mutate(ctx, id, fn)
}

// mutate runs fn inside a transaction holding the bug's row, then writes the
// bug and whatever fn queued. Any error rolls the whole thing back.
func (s *SQLStore) mutate(ctx context.Context, id string, fn WriteFunc) (*models.Bug, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bug, err := s.getBug(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	var w Writes
	if err := fn(bug, &w); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	bug.UpdatedAt = now
	w.stamp(now)

	tags, err := encodeList(bug.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`UPDATE bugs SET title=?, description=?, repo_link=?, logs=?, tags=?, severity=?, expected_behavior=?,
		status=?, bounty=?, funds_raised=?, contributors=?, assigned_developer_id=?, ai_score=?, category=?,
		complexity=?, updated_at=?
		WHERE id=?`),
		bug.Title, bug.Description, bug.RepoLink, bug.Logs, tags, string(bug.Severity), bug.ExpectedBehavior,
		string(bug.Status), bug.Bounty, bug.FundsRaised, bug.Contributors, bug.AssignedDeveloperID, bug.AIScore,
		bug.Category, bug.Complexity, bug.UpdatedAt, bug.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update bug: %w", err)
	}

	if err := applyWrites(ctx, tx, &w); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return bug, nil
}

func applyWrites(ctx context.Context, tx *sqlx.Tx, w *Writes) error {
	if c := w.Contribution; c != nil {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO contributions (id, bug_id, funder_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`),
			c.ID, c.BugID, c.FunderID, c.Amount, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert contribution: %w", err)
		}
	}
	if v := w.Verification; v != nil {
		if err := insertVerification(ctx, tx, v); err != nil {
			return err
		}
	}
	if w.CreditResolved != "" {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE users SET bugs_resolved = bugs_resolved + 1 WHERE id = ?`), w.CreditResolved)
		if err != nil {
			return fmt.Errorf("credit developer: %w", err)
		}
	}
	return nil
}

// --- Contributions ---

func (s *SQLStore) ApplyContribution(ctx context.Context, c *models.Contribution, fn MutateFunc) (*models.Bug, error) {
	return s.mutate(ctx, c.BugID, func(b *models.Bug, w *Writes) error {
		if err := fn(b); err != nil {
			return err
		}
		w.Contribution = c
		return nil
	})
}

func (s *SQLStore) ListContributions(ctx context.Context, filter ContributionFilter) ([]*models.Contribution, error) {
	query := `SELECT id, bug_id, funder_id, amount, created_at FROM contributions`
	var conditions []string
	var args []any
	if filter.BugID != "" {
		conditions = append(conditions, "bug_id = ?")
		args = append(args, filter.BugID)
	}
	if filter.FunderID != "" {
		conditions = append(conditions, "funder_id = ?")
		args = append(args, filter.FunderID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"

	var out []*models.Contribution
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	return out, nil
}

// --- Users ---

const userColumns = `id, name, email, role, avatar_url, skills, success_rate, bugs_resolved, created_at`

type userRow struct {
	models.User
	SkillsJSON string `db:"skills"`
}

func (r *userRow) toUser() (*models.User, error) {
	u := r.User
	if r.SkillsJSON != "" {
		if err := json.Unmarshal([]byte(r.SkillsJSON), &u.Skills); err != nil {
			return nil, fmt.Errorf("decode skills for user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newUserID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	skills, err := encodeList(u.Skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			avatar_url = excluded.avatar_url,
			skills = excluded.skills,
			success_rate = excluded.success_rate,
			bugs_resolved = excluded.bugs_resolved`),
		u.ID, u.Name, u.Email, string(u.Role), u.AvatarURL, skills, u.SuccessRate, u.BugsResolved, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.toUser()
}

func (s *SQLStore) ListUsers(ctx context.Context, role models.Role) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += " WHERE role = ?"
		args = append(args, string(role))
	}
	query += " ORDER BY name"

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]*models.User, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// --- Verifications ---

func (s *SQLStore) CreateVerification(ctx context.Context, v *models.Verification) error {
	if v.ID == "" {
		v.ID = newULID()
	}
	v.CreatedAt = time.Now().UTC()
	return insertVerification(ctx, s.db, v)
}

func insertVerification(ctx context.Context, db sqlx.ExtContext, v *models.Verification) error {
	_, err := db.ExecContext(ctx, db.Rebind(
		`INSERT INTO verifications (id, bug_id, developer_id, pr_link, similarity_score, passed, diff_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		v.ID, v.BugID, v.DeveloperID, v.PRLink, v.SimilarityScore, v.Passed, v.DiffSummary, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

func (s *SQLStore) ListVerifications(ctx context.Context, bugID string) ([]*models.Verification, error) {
	var out []*models.Verification
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT id, bug_id, developer_id, pr_link, similarity_score, passed, diff_summary, created_at
		FROM verifications WHERE bug_id = ? ORDER BY created_at, id`), bugID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return out, nil
}
