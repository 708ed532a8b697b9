package requester

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AuditWriter keeps a copy of every provider response on disk, grouped in
// one directory per UTC day
type AuditWriter struct {
	dir string
	now func() time.Time
}

// NewAuditWriter creates a writer rooted at dir. An empty dir disables it.
func NewAuditWriter(dir string, now func() time.Time) *AuditWriter {
	if now == nil {
		now = time.Now
	}
	return &AuditWriter{dir: dir, now: now}
}

// Write stores body as <dir>/<YYYYMMDD>/[failed_]requestId<ref>_apiId<source>.json
// with requestUrl added. A body that is not a JSON object is kept under
// rawBody. Returns the written path.
func (a *AuditWriter) Write(ref string, sourceID int64, failed bool, body []byte, requestURL string, extra map[string]any) (string, error) {
	if a == nil || a.dir == "" {
		return "", nil
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		payload = map[string]any{"rawBody": string(body)}
	}
	for k, v := range extra {
		payload[k] = v
	}
	if requestURL != "" {
		payload["requestUrl"] = requestURL
	}

	datedDir := filepath.Join(a.dir, a.now().UTC().Format("20060102"))
	if err := os.MkdirAll(datedDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create response directory: %w", err)
	}

	name := fmt.Sprintf("requestId%s_apiId%d.json", ref, sourceID)
	if failed {
		name = "failed_" + name
	}
	path := filepath.Join(datedDir, name)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write response file: %w", err)
	}
	return path, nil
}
