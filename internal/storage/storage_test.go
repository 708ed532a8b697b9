package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "requester.db"))
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func day(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSourceUpsertAndLookup(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()

	id, err := store.UpsertSource(ctx, "NewsAPI", "key-1", "https://newsapi.org/v2/")
	if err != nil {
		t.Fatalf("UpsertSource error: %v", err)
	}

	again, err := store.UpsertSource(ctx, "NewsAPI", "key-2", "https://newsapi.org/v2/")
	if err != nil {
		t.Fatalf("UpsertSource (update) error: %v", err)
	}
	if again != id {
		t.Fatalf("source id changed on upsert: %d -> %d", id, again)
	}

	src, err := store.FindSourceConfig(ctx, "NewsAPI")
	if err != nil {
		t.Fatalf("FindSourceConfig error: %v", err)
	}
	if src.APIKey != "key-2" {
		t.Errorf("APIKey = %q, want key-2", src.APIKey)
	}

	if _, err := store.FindSourceConfig(ctx, "GNews"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("FindSourceConfig(unknown) error = %v, want ErrSourceNotFound", err)
	}
}

func TestFindLatestRecord(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()

	srcID, err := store.UpsertSource(ctx, "NewsAPI", "", "")
	if err != nil {
		t.Fatalf("UpsertSource error: %v", err)
	}
	key := QueryKey{And: `"consumer product" recall`, Or: "fire burn", Not: ""}

	rec, err := store.FindLatestRecord(ctx, srcID, key)
	if err != nil {
		t.Fatalf("FindLatestRecord error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for a never-requested query, got %+v", rec)
	}

	windows := [][2]string{
		{"2026-01-01", "2026-01-11"},
		{"2026-01-11", "2026-01-21"},
		{"2026-01-21", "2026-01-25"},
	}
	for _, w := range windows {
		if err := store.CreateRecord(ctx, &RequestRecord{
			SourceID: srcID, Key: key, Start: day(w[0]), End: day(w[1]), Status: StatusSuccess,
		}); err != nil {
			t.Fatalf("CreateRecord error: %v", err)
		}
	}

	// Different identity: OR terms differ.
	other := QueryKey{And: key.And, Or: "fire", Not: ""}
	if err := store.CreateRecord(ctx, &RequestRecord{
		SourceID: srcID, Key: other, Start: day("2026-02-01"), End: day("2026-02-11"), Status: StatusSuccess,
	}); err != nil {
		t.Fatalf("CreateRecord error: %v", err)
	}

	rec, err = store.FindLatestRecord(ctx, srcID, key)
	if err != nil {
		t.Fatalf("FindLatestRecord error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if got := rec.End.Format(DateLayout); got != "2026-01-25" {
		t.Fatalf("latest End = %s, want 2026-01-25", got)
	}

	n, err := store.CountRecords(ctx, srcID)
	if err != nil {
		t.Fatalf("CountRecords error: %v", err)
	}
	if n != 4 {
		t.Fatalf("CountRecords = %d, want 4", n)
	}
}

func TestFindLatestRecordByStatus(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()

	srcID, err := store.UpsertSource(ctx, "NewsAPI", "", "")
	if err != nil {
		t.Fatalf("UpsertSource error: %v", err)
	}
	key := QueryKey{And: "recall"}

	for _, r := range []struct {
		end, status string
	}{
		{"2026-04-01", StatusSuccess},
		{"2026-04-11", StatusError},
		{"2026-04-21", StatusRateLimited},
	} {
		if err := store.CreateRecord(ctx, &RequestRecord{
			SourceID: srcID, Key: key, Start: day(r.end).AddDate(0, 0, -10), End: day(r.end), Status: r.status,
		}); err != nil {
			t.Fatalf("CreateRecord error: %v", err)
		}
	}

	tests := []struct {
		statuses []string
		want     string
	}{
		{nil, "2026-04-21"},
		{[]string{StatusSuccess, StatusError}, "2026-04-11"},
		{[]string{StatusSuccess}, "2026-04-01"},
	}
	for _, tt := range tests {
		rec, err := store.FindLatestRecord(ctx, srcID, key, tt.statuses...)
		if err != nil {
			t.Fatalf("FindLatestRecord(%v) error: %v", tt.statuses, err)
		}
		if rec == nil || rec.End.Format(DateLayout) != tt.want {
			t.Fatalf("FindLatestRecord(%v) = %+v, want end %s", tt.statuses, rec, tt.want)
		}
	}

	rec, err := store.FindLatestRecord(ctx, srcID, key, "unknown")
	if err != nil || rec != nil {
		t.Fatalf("FindLatestRecord(unknown) = %+v, %v, want nil", rec, err)
	}
}

func TestStoreArticlesIsIdempotent(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()

	srcID, err := store.UpsertSource(ctx, "NewsAPI", "", "")
	if err != nil {
		t.Fatalf("UpsertSource error: %v", err)
	}
	rec := &RequestRecord{
		SourceID: srcID, Key: QueryKey{And: "recall"}, Start: day("2026-03-01"), End: day("2026-03-11"),
		Status: StatusSuccess, Received: 3,
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateRecord error: %v", err)
	}

	articles := []Article{
		{URL: "https://example.com/a", Title: "A", Content: "body a"},
		{URL: "https://example.com/b", Title: "B"},
		{URL: "https://example.com/a", Title: "A duplicate in batch"},
		{URL: "", Title: "no url"},
	}

	saved, err := store.StoreArticles(ctx, articles, rec)
	if err != nil {
		t.Fatalf("StoreArticles error: %v", err)
	}
	if saved != 2 {
		t.Fatalf("first StoreArticles saved = %d, want 2", saved)
	}

	saved, err = store.StoreArticles(ctx, articles, rec)
	if err != nil {
		t.Fatalf("second StoreArticles error: %v", err)
	}
	if saved != 0 {
		t.Fatalf("second StoreArticles saved = %d, want 0", saved)
	}

	total, err := store.CountArticles(ctx)
	if err != nil {
		t.Fatalf("CountArticles error: %v", err)
	}
	if total != 2 {
		t.Fatalf("CountArticles = %d, want 2", total)
	}

	if err := store.UpdateSavedCount(ctx, rec.ID, 2); err != nil {
		t.Fatalf("UpdateSavedCount error: %v", err)
	}
	latest, err := store.FindLatestRecord(ctx, srcID, rec.Key)
	if err != nil || latest == nil {
		t.Fatalf("FindLatestRecord = %v, %v", latest, err)
	}
	if latest.Saved != 2 || latest.Received != 3 {
		t.Fatalf("record counts = received %d saved %d, want 3/2", latest.Received, latest.Saved)
	}
}

func TestLinkDomains(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()

	srcID, _ := store.UpsertSource(ctx, "NewsAPI", "", "")
	rec := &RequestRecord{SourceID: srcID, Start: day("2026-03-01"), End: day("2026-03-02"), Status: StatusSuccess}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateRecord error: %v", err)
	}

	if err := store.LinkDomains(ctx, rec.ID, []string{"cnn.com", " CNN.com ", ""}, DomainIncluded); err != nil {
		t.Fatalf("LinkDomains error: %v", err)
	}
	if err := store.LinkDomains(ctx, rec.ID, []string{"tabloid.example"}, DomainExcluded); err != nil {
		t.Fatalf("LinkDomains error: %v", err)
	}

	var n int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM request_domains WHERE request_id = ?`, rec.ID).Scan(&n); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if n != 2 {
		t.Fatalf("request_domains rows = %d, want 2", n)
	}
}

func TestSchemaForPostgres(t *testing.T) {
	pg := schemaFor("pgx")
	if strings.Contains(pg, "AUTOINCREMENT") {
		t.Fatal("postgres schema still contains AUTOINCREMENT")
	}
	if !strings.Contains(pg, "BIGSERIAL PRIMARY KEY") {
		t.Fatal("postgres schema missing BIGSERIAL keys")
	}

	s := &Storage{driver: "pgx"}
	got := s.rebind(`SELECT 1 FROM requests WHERE source_id = ? AND and_string = ?`)
	want := `SELECT 1 FROM requests WHERE source_id = $1 AND and_string = $2`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
}
