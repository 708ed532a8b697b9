// Package queries loads the list of search queries to keep covered from a
// spreadsheet (.xlsx) or a CSV export of it.
package queries

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/alvmarrod/newsapi-requester/internal/scheduler"
	"github.com/alvmarrod/newsapi-requester/internal/storage"
)

// Column headers expected on the first row
const (
	ColID             = "id"
	ColAnd            = "andString"
	ColOr             = "orString"
	ColNot            = "notString"
	ColStartDate      = "startDate"
	ColIncludeDomains = "includeDomains"
	ColExcludeDomains = "excludeDomains"
)

var reTerm = regexp.MustCompile(`"[^"]+"|\S+`)

// Load reads query specs from path. Any failure is logged and yields an
// empty list, so a broken spreadsheet results in an idle run.
func Load(path string) []*scheduler.QuerySpec {
	specs, err := LoadFile(path)
	if err != nil {
		logrus.Errorf("Failed to load queries from %s: %v", path, err)
		return []*scheduler.QuerySpec{}
	}
	logrus.Infof("Loaded %d queries from %s", len(specs), path)
	return specs
}

// LoadFile reads query specs from an .xlsx or .csv file
func LoadFile(path string) ([]*scheduler.QuerySpec, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported query file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return parseRows(rows)
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return rows, nil
}

func parseRows(rows [][]string) ([]*scheduler.QuerySpec, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}

	columns := map[string]int{}
	for i, name := range rows[0] {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := columns[ColID]; !ok {
		return nil, fmt.Errorf("missing %q column", ColID)
	}

	cell := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	specs := make([]*scheduler.QuerySpec, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if isBlank(row) {
			continue
		}

		spec := &scheduler.QuerySpec{
			ID:             cell(row, ColID),
			And:            SplitTerms(cell(row, ColAnd)),
			Or:             SplitTerms(cell(row, ColOr)),
			Not:            SplitTerms(cell(row, ColNot)),
			IncludeDomains: SplitDomains(cell(row, ColIncludeDomains)),
			ExcludeDomains: SplitDomains(cell(row, ColExcludeDomains)),
		}

		if raw := cell(row, ColStartDate); raw != "" {
			origin, err := ParseDate(raw)
			if err != nil {
				logrus.Warnf("Row %d (query %s): ignoring start date: %v", n+2, spec.ID, err)
			} else {
				spec.Origin = origin
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SplitTerms splits a term string on whitespace, keeping double-quoted
// phrases (quotes included) as single terms
func SplitTerms(s string) []string {
	return reTerm.FindAllString(s, -1)
}

// SplitDomains splits a comma separated domain list, dropping empty entries
func SplitDomains(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ParseDate accepts YYYY-MM-DD, an RFC3339 timestamp or an Excel date serial
func ParseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(storage.DateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return scheduler.Day(t), nil
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date serial %q: %w", raw, err)
		}
		return scheduler.Day(t), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
