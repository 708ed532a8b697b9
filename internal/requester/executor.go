// Package requester sends one search request per scheduled window,
// classifies the provider's answer and persists what came back.
package requester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/newsapi-requester/internal/scheduler"
	"github.com/alvmarrod/newsapi-requester/internal/storage"
)

// rateLimitedCode is the provider error code for an exhausted quota
const rateLimitedCode = "rateLimited"

// Store is the persistence the executor needs
type Store interface {
	CreateRecord(ctx context.Context, rec *storage.RequestRecord) error
	LinkDomains(ctx context.Context, recordID int64, domains []string, mode string) error
	StoreArticles(ctx context.Context, articles []storage.Article, rec *storage.RequestRecord) (int, error)
	UpdateSavedCount(ctx context.Context, recordID int64, saved int) error
}

// Config configures an Executor. With Activate false every request becomes
// a logged dry run.
type Config struct {
	Source       storage.SourceConfig
	Language     string
	Timeout      time.Duration
	LookbackDays int
	Activate     bool
	ResponsesDir string
	UserAgent    string
	Now          func() time.Time
}

// Executor implements scheduler.Executor against a NewsAPI-style provider
type Executor struct {
	cfg       Config
	store     Store
	collector *colly.Collector
	audit     *AuditWriter
	log       *logrus.Entry
}

// New creates an executor
func New(cfg Config, store Store, log *logrus.Entry) *Executor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	if cfg.Timeout > 0 {
		collector.SetRequestTimeout(cfg.Timeout)
	}

	return &Executor{
		cfg:       cfg,
		store:     store,
		collector: collector,
		audit:     NewAuditWriter(cfg.ResponsesDir, cfg.Now),
		log:       log,
	}
}

// apiResponse is the subset of the provider's JSON we read. Articles stays
// raw so a missing list can be told apart from an empty one.
type apiResponse struct {
	Status       string          `json:"status"`
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	TotalResults int             `json:"totalResults"`
	Articles     json.RawMessage `json:"articles"`
}

type apiArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Execute issues exactly one request for spec over w
func (e *Executor) Execute(ctx context.Context, spec *scheduler.QuerySpec, w scheduler.Window) (scheduler.Outcome, error) {
	log := e.log.WithField("query_id", spec.ID)
	today := scheduler.Day(e.cfg.Now())

	from := clampStart(w.Start, today, e.cfg.LookbackDays)
	if !from.Before(w.End) {
		log.Infof("Window %s is older than the provider's %d day look-back, skipping", w, e.cfg.LookbackDays)
		return scheduler.Outcome{Kind: scheduler.OutcomeSkipped}, nil
	}
	if !from.Equal(w.Start) {
		log.Debugf("Start date clamped from %s to %s", scheduler.FormatDay(w.Start), scheduler.FormatDay(from))
	}

	requestURL := BuildURL(e.cfg.Source.BaseURL, spec, from, w.End, e.cfg.Language)
	if !e.cfg.Activate {
		log.Infof("Outbound requests disabled, would request %s", requestURL)
		return scheduler.Outcome{Kind: scheduler.OutcomeDryRun}, nil
	}

	start := time.Now()
	status, body, err := e.fetch(ctx, requestURL)
	elapsed := time.Since(start)
	if err != nil {
		return scheduler.Outcome{Kind: scheduler.OutcomeTransportError, Elapsed: elapsed, Err: err}, nil
	}
	log.Debugf("Fetched %s (status=%d, %d bytes, %v)", requestURL, status, len(body), elapsed)

	rec := &storage.RequestRecord{
		SourceID:       e.cfg.Source.ID,
		Key:            spec.Key(),
		Start:          from,
		End:            w.End,
		URL:            requestURL,
		FromAutomation: true,
	}
	outcome := scheduler.Outcome{Elapsed: elapsed}

	var resp apiResponse
	parseErr := json.Unmarshal(body, &resp)

	var articles []apiArticle
	hasArticles := false
	if parseErr == nil && len(resp.Articles) > 0 && !bytes.Equal(resp.Articles, []byte("null")) {
		if err := json.Unmarshal(resp.Articles, &articles); err == nil {
			hasArticles = true
		}
	}

	switch {
	case status == http.StatusTooManyRequests || (parseErr == nil && resp.Code == rateLimitedCode):
		outcome.Kind = scheduler.OutcomeRateLimited
	case hasArticles:
		outcome.Kind = scheduler.OutcomeSuccess
	default:
		outcome.Kind = scheduler.OutcomeMalformed
	}

	switch outcome.Kind {
	case scheduler.OutcomeSuccess:
		rec.Status = storage.StatusSuccess
		rec.Received = len(articles)
		rec.Available = resp.TotalResults
	case scheduler.OutcomeRateLimited:
		rec.Status = storage.StatusRateLimited
	default:
		rec.Status = storage.StatusError
	}

	if err := e.record(ctx, rec, spec); err != nil {
		return outcome, err
	}
	outcome.RecordID = rec.ID
	outcome.Received = rec.Received
	outcome.Available = rec.Available

	ref := strconv.FormatInt(rec.ID, 10)
	if outcome.Kind != scheduler.OutcomeSuccess {
		if resp.Message != "" {
			log.Warnf("Provider answered %s (status=%d, code=%q): %s", outcome.Kind, status, resp.Code, resp.Message)
		} else {
			log.Warnf("Provider answered %s (status=%d)", outcome.Kind, status)
		}
		e.writeAudit(ref, true, body, requestURL, nil)
		return outcome, nil
	}

	saved, err := e.store.StoreArticles(ctx, toArticles(articles), rec)
	if err != nil {
		log.Errorf("Failed to store articles for request %d: %v", rec.ID, err)
		e.writeAudit(ref, true, body, requestURL, map[string]any{"error": err.Error()})
		return outcome, nil
	}
	if err := e.store.UpdateSavedCount(ctx, rec.ID, saved); err != nil {
		log.Errorf("Failed to update saved count for request %d: %v", rec.ID, err)
	}
	rec.Saved = saved
	outcome.Saved = saved
	log.Infof("Request %d: %d received, %d available, %d new", rec.ID, rec.Received, rec.Available, saved)

	e.writeAudit(ref, false, body, requestURL, nil)
	return outcome, nil
}

// fetch performs the GET through a fresh clone of the base collector.
// Every HTTP response, error statuses included, is returned to the caller;
// only a missing response is an error.
func (e *Executor) fetch(ctx context.Context, requestURL string) (int, []byte, error) {
	c := e.collector.Clone()
	c.ParseHTTPErrorResponse = true
	c.Context = ctx

	var (
		status   int
		body     []byte
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		if e.cfg.Source.APIKey != "" {
			r.Headers.Set("X-Api-Key", e.cfg.Source.APIKey)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(requestURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil && status == 0 {
		return 0, nil, fmt.Errorf("request failed: %w", fetchErr)
	}
	if status == 0 {
		return 0, nil, fmt.Errorf("request failed: no response")
	}
	return status, body, nil
}

// record creates the request row and links its domain filters
func (e *Executor) record(ctx context.Context, rec *storage.RequestRecord, spec *scheduler.QuerySpec) error {
	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	if err := e.store.LinkDomains(ctx, rec.ID, NormalizeDomains(spec.IncludeDomains), storage.DomainIncluded); err != nil {
		e.log.Warnf("Failed to link included domains for request %d: %v", rec.ID, err)
	}
	if err := e.store.LinkDomains(ctx, rec.ID, NormalizeDomains(spec.ExcludeDomains), storage.DomainExcluded); err != nil {
		e.log.Warnf("Failed to link excluded domains for request %d: %v", rec.ID, err)
	}
	return nil
}

func (e *Executor) writeAudit(ref string, failed bool, body []byte, requestURL string, extra map[string]any) {
	path, err := e.audit.Write(ref, e.cfg.Source.ID, failed, body, requestURL, extra)
	if err != nil {
		e.log.Warnf("Failed to write response file: %v", err)
		return
	}
	if path != "" {
		e.log.Debugf("Response written to %s", path)
	}
}

func toArticles(in []apiArticle) []storage.Article {
	out := make([]storage.Article, 0, len(in))
	for _, a := range in {
		out = append(out, storage.Article{
			URL:             a.URL,
			PublicationName: a.Source.Name,
			Title:           a.Title,
			Author:          a.Author,
			Description:     a.Description,
			URLToImage:      a.URLToImage,
			PublishedAt:     a.PublishedAt,
			Content:         a.Content,
		})
	}
	return out
}
