package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ErrSourceNotFound is returned when no source row matches the configured name
var ErrSourceNotFound = errors.New("news source not found")

// Storage handles all database operations
type Storage struct {
	db     *sql.DB
	driver string
}

// NewStorage opens a sqlite database file and initializes the schema
func NewStorage(dbPath string) (*Storage, error) {
	return Open("sqlite3", dbPath)
}

// Open opens/creates the database for driver ("sqlite3" or "pgx") and
// initializes the schema
func Open(driver, dsn string) (*Storage, error) {
	if driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite prefers a single writer connection.
		db.SetMaxOpenConns(1)
	}

	storage := &Storage{db: db, driver: driver}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	for _, stmt := range strings.Split(schemaFor(s.driver), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSource inserts a source or refreshes its key and base URL.
// Returns the source_id.
func (s *Storage) UpsertSource(ctx context.Context, name, apiKey, baseURL string) (int64, error) {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sources (name, api_key, base_url)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			base_url = EXCLUDED.base_url
	`), name, apiKey, baseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert source: %w", err)
	}

	src, err := s.FindSourceConfig(ctx, name)
	if err != nil {
		return 0, err
	}
	return src.ID, nil
}

// FindSourceConfig returns the source named name, or ErrSourceNotFound
func (s *Storage) FindSourceConfig(ctx context.Context, name string) (*SourceConfig, error) {
	var src SourceConfig
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT source_id, name, api_key, base_url
		FROM sources
		WHERE name = ?
	`), name).Scan(&src.ID, &src.Name, &src.APIKey, &src.BaseURL)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

const recordColumns = `request_id, source_id, and_string, or_string, not_string,
	date_start, date_end, status, count_received, count_available, count_saved,
	url, from_automation, created_at`

// FindLatestRecord returns the request with the latest end date for key and
// source, or nil if the query was never requested. When statuses are given
// only requests with one of them are considered.
func (s *Storage) FindLatestRecord(ctx context.Context, sourceID int64, key QueryKey, statuses ...string) (*RequestRecord, error) {
	args := []any{sourceID, key.And, key.Or, key.Not}
	statusFilter := ""
	if len(statuses) > 0 {
		statusFilter = " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+recordColumns+`
		FROM requests
		WHERE source_id = ? AND and_string = ? AND or_string = ? AND not_string = ?`+statusFilter+`
		ORDER BY date_end DESC, request_id DESC
		LIMIT 1
	`), args...)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest request: %w", err)
	}
	return rec, nil
}

// CountRecords returns the number of requests stored for a source
func (s *Storage) CountRecords(ctx context.Context, sourceID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM requests WHERE source_id = ?`), sourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}

// CreateRecord inserts rec and sets rec.ID and rec.CreatedAt
func (s *Storage) CreateRecord(ctx context.Context, rec *RequestRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO requests (source_id, and_string, or_string, not_string,
			date_start, date_end, status, count_received, count_available, count_saved,
			url, from_automation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING request_id
	`),
		rec.SourceID, rec.Key.And, rec.Key.Or, rec.Key.Not,
		rec.Start.Format(DateLayout), rec.End.Format(DateLayout), rec.Status,
		rec.Received, rec.Available, rec.Saved,
		rec.URL, boolInt(rec.FromAutomation), rec.CreatedAt.Format(time.RFC3339),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// UpdateSavedCount records how many articles a request actually stored
func (s *Storage) UpdateSavedCount(ctx context.Context, recordID int64, saved int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE requests SET count_saved = ? WHERE request_id = ?`), saved, recordID)
	if err != nil {
		return fmt.Errorf("failed to update saved count: %w", err)
	}
	return nil
}

// StoreArticles inserts articles found by rec. Articles whose URL already
// exists are skipped silently. Returns the number of new articles.
func (s *Storage) StoreArticles(ctx context.Context, articles []Article, rec *RequestRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin article batch: %w", err)
	}
	defer tx.Rollback()

	insertArticle := s.rebind(`
		INSERT INTO articles (url, publication_name, title, author, description,
			url_to_image, published_date, request_id, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING
		RETURNING article_id
	`)
	insertContent := s.rebind(`INSERT INTO article_contents (article_id, content) VALUES (?, ?)`)
	now := time.Now().UTC().Format(time.RFC3339)

	saved := 0
	for _, a := range articles {
		if strings.TrimSpace(a.URL) == "" {
			continue
		}

		var id int64
		err := tx.QueryRowContext(ctx, insertArticle,
			a.URL, a.PublicationName, a.Title, a.Author, a.Description,
			a.URLToImage, a.PublishedAt, rec.ID, rec.SourceID, now,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to insert article %s: %w", a.URL, err)
		}

		if a.Content != "" {
			if _, err := tx.ExecContext(ctx, insertContent, id, a.Content); err != nil {
				return 0, fmt.Errorf("failed to insert article content: %w", err)
			}
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit article batch: %w", err)
	}
	return saved, nil
}

// CountArticles returns the total number of stored articles
func (s *Storage) CountArticles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

// LinkDomains records which website domains a request included or excluded
func (s *Storage) LinkDomains(ctx context.Context, recordID int64, domains []string, mode string) error {
	for _, name := range domains {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO website_domains (name) VALUES (?)
			ON CONFLICT(name) DO NOTHING
		`), name); err != nil {
			return fmt.Errorf("failed to upsert domain %s: %w", name, err)
		}

		var domainID int64
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT domain_id FROM website_domains WHERE name = ?`), name).Scan(&domainID)
		if err != nil {
			return fmt.Errorf("failed to retrieve domain_id: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO request_domains (request_id, domain_id, mode)
			VALUES (?, ?, ?)
			ON CONFLICT(request_id, domain_id) DO NOTHING
		`), recordID, domainID, mode); err != nil {
			return fmt.Errorf("failed to link domain %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*RequestRecord, error) {
	var (
		rec                   RequestRecord
		start, end, createdAt string
		fromAutomation        int
	)
	err := row.Scan(&rec.ID, &rec.SourceID, &rec.Key.And, &rec.Key.Or, &rec.Key.Not,
		&start, &end, &rec.Status, &rec.Received, &rec.Available, &rec.Saved,
		&rec.URL, &fromAutomation, &createdAt)
	if err != nil {
		return nil, err
	}

	if rec.Start, err = time.Parse(DateLayout, start); err != nil {
		return nil, fmt.Errorf("bad date_start %q: %w", start, err)
	}
	if rec.End, err = time.Parse(DateLayout, end); err != nil {
		return nil, fmt.Errorf("bad date_end %q: %w", end, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.FromAutomation = fromAutomation != 0
	return &rec, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
