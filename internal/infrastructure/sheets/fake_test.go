package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"autopay/internal/config"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// fakeSheets is an in-memory stand-in for the Sheets v4 REST endpoints the client uses.
type fakeSheets struct {
	mu       sync.Mutex
	nextID   int64
	sheets   map[string]*fakeSheet
	addCalls int
	updates  int
}

type fakeSheet struct {
	id   int64
	rows [][]interface{}
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{sheets: map[string]*fakeSheet{}, nextID: 1}
}

func (f *fakeSheets) seed(title string, rows ...[]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[title] = &fakeSheet{id: f.nextID, rows: rows}
	f.nextID++
}

func (f *fakeSheets) rows(title string) [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sheets[title]
	if !ok {
		return nil
	}
	return s.rows
}

func (f *fakeSheets) client(t *testing.T, cfg *config.SheetsConfig) *Client {
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), cfg,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return c
}

func (f *fakeSheets) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	parts := strings.SplitN(path, "/values/", 2)

	switch {
	case len(parts) == 1 && strings.HasSuffix(parts[0], ":batchUpdate"):
		f.batchUpdate(w, r)
	case len(parts) == 1:
		f.getSpreadsheet(w)
	case strings.HasSuffix(parts[1], ":append"):
		f.appendValues(w, r, strings.TrimSuffix(parts[1], ":append"))
	case r.Method == http.MethodPut:
		f.updateValues(w, r, parts[1])
	default:
		f.getValues(w, parts[1])
	}
}

func (f *fakeSheets) getSpreadsheet(w http.ResponseWriter) {
	ss := &sheetsapi.Spreadsheet{}
	for title, s := range f.sheets {
		ss.Sheets = append(ss.Sheets, &sheetsapi.Sheet{Properties: &sheetsapi.SheetProperties{SheetId: s.id, Title: title}})
	}
	writeJSON(w, ss)
}

func (f *fakeSheets) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var req sheetsapi.BatchUpdateSpreadsheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := &sheetsapi.BatchUpdateSpreadsheetResponse{}
	for _, q := range req.Requests {
		switch {
		case q.AddSheet != nil:
			title := q.AddSheet.Properties.Title
			if _, ok := f.sheets[title]; ok {
				http.Error(w, "sheet exists", http.StatusBadRequest)
				return
			}
			f.addCalls++
			f.sheets[title] = &fakeSheet{id: f.nextID}
			resp.Replies = append(resp.Replies, &sheetsapi.Response{AddSheet: &sheetsapi.AddSheetResponse{
				Properties: &sheetsapi.SheetProperties{SheetId: f.nextID, Title: title},
			}})
			f.nextID++
		case q.SortRange != nil:
			for _, s := range f.sheets {
				if s.id != q.SortRange.Range.SheetId || len(s.rows) < 2 {
					continue
				}
				col := int(q.SortRange.SortSpecs[0].DimensionIndex)
				body := s.rows[1:]
				sort.SliceStable(body, func(i, j int) bool {
					return cellString(at(body[i], col)) < cellString(at(body[j], col))
				})
			}
			resp.Replies = append(resp.Replies, &sheetsapi.Response{})
		}
	}
	writeJSON(w, resp)
}

func (f *fakeSheets) getValues(w http.ResponseWriter, rng string) {
	title, _ := splitRange(rng)
	s, ok := f.sheets[title]
	if !ok {
		http.Error(w, "no sheet", http.StatusBadRequest)
		return
	}
	writeJSON(w, &sheetsapi.ValueRange{Range: rng, Values: s.rows})
}

func (f *fakeSheets) updateValues(w http.ResponseWriter, r *http.Request, rng string) {
	var vr sheetsapi.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	title, cell := splitRange(rng)
	s := f.sheets[title]
	col, row := parseCell(cell)
	for len(s.rows) <= row {
		s.rows = append(s.rows, []interface{}{})
	}
	for i, v := range vr.Values[0] {
		for len(s.rows[row]) <= col+i {
			s.rows[row] = append(s.rows[row], "")
		}
		s.rows[row][col+i] = v
	}
	f.updates++
	writeJSON(w, &sheetsapi.UpdateValuesResponse{UpdatedRange: rng})
}

func (f *fakeSheets) appendValues(w http.ResponseWriter, r *http.Request, rng string) {
	var vr sheetsapi.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	title, _ := splitRange(rng)
	s := f.sheets[title]
	s.rows = append(s.rows, vr.Values...)
	writeJSON(w, &sheetsapi.AppendValuesResponse{})
}

func splitRange(rng string) (string, string) {
	title, cell, _ := strings.Cut(rng, "!")
	title = strings.ReplaceAll(strings.Trim(title, "'"), "''", "'")
	return title, cell
}

func parseCell(cell string) (col, row int) {
	i := 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		col = col*26 + int(cell[i]-'A'+1)
		i++
	}
	n, _ := strconv.Atoi(cell[i:])
	return col - 1, n - 1
}

func at(row []interface{}, i int) interface{} {
	if i < len(row) {
		return row[i]
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
