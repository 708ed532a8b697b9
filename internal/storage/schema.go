package storage

import (
	"strconv"
	"strings"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sources (
	source_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS requests (
	request_id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	and_string TEXT NOT NULL DEFAULT '',
	or_string TEXT NOT NULL DEFAULT '',
	not_string TEXT NOT NULL DEFAULT '',
	date_start TEXT NOT NULL,
	date_end TEXT NOT NULL,
	status TEXT NOT NULL,
	count_received INTEGER NOT NULL DEFAULT 0,
	count_available INTEGER NOT NULL DEFAULT 0,
	count_saved INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL DEFAULT '',
	from_automation INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	FOREIGN KEY (source_id) REFERENCES sources(source_id)
);

CREATE TABLE IF NOT EXISTS articles (
	article_id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT UNIQUE NOT NULL,
	publication_name TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	url_to_image TEXT NOT NULL DEFAULT '',
	published_date TEXT NOT NULL DEFAULT '',
	request_id INTEGER,
	source_id INTEGER,
	created_at TEXT NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(request_id),
	FOREIGN KEY (source_id) REFERENCES sources(source_id)
);

CREATE TABLE IF NOT EXISTS article_contents (
	article_id INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	FOREIGN KEY (article_id) REFERENCES articles(article_id)
);

CREATE TABLE IF NOT EXISTS website_domains (
	domain_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS request_domains (
	request_id INTEGER NOT NULL,
	domain_id INTEGER NOT NULL,
	mode TEXT NOT NULL,
	PRIMARY KEY (request_id, domain_id),
	FOREIGN KEY (request_id) REFERENCES requests(request_id),
	FOREIGN KEY (domain_id) REFERENCES website_domains(domain_id)
);

CREATE INDEX IF NOT EXISTS idx_requests_query ON requests(source_id, and_string, or_string, not_string, date_end);
CREATE INDEX IF NOT EXISTS idx_articles_request ON articles(request_id)
`

// schemaFor returns the DDL for driver. Postgres gets BIGSERIAL keys and
// BIGINT columns; everything else is shared.
func schemaFor(driver string) string {
	if driver != "pgx" {
		return sqliteSchema
	}
	pg := strings.ReplaceAll(sqliteSchema, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	return strings.ReplaceAll(pg, "INTEGER", "BIGINT")
}

// rebind rewrites ? placeholders to $N for Postgres
func (s *Storage) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
