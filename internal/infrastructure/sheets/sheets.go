package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"autopay/internal/config"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

var (
	ErrColumnNotFound = errors.New("column not found in header row")
	ErrRowNotFound    = errors.New("no row matches identify value")
	ErrNoSpreadsheet  = errors.New("no spreadsheet configured for fee type")
)

const (
	newSheetRows = 100
	newSheetCols = 20

	valueInputUserEntered = "USER_ENTERED"
	renderUnformatted     = "UNFORMATTED_VALUE"
)

// CellRef addresses one numeric cell: the row whose IdentifyColumn equals
// IdentifyValue, in the column headed Column, on Sheet of the spreadsheet
// configured for Book.
type CellRef struct {
	Book           string
	Sheet          string
	IdentifyColumn string
	IdentifyValue  string
	Column         string
}

// Record is one appended row. Columns becomes the header row.
type Record struct {
	Columns    []string
	Values     []interface{}
	SortColumn string
}

// Client is the external ledger backed by Google Sheets. Read-modify-write
// cycles on one sheet are serialized within the process.
type Client struct {
	svc         *sheetsapi.Service
	books       map[string]string
	defaultBook string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New authenticates with the service account in cfg.CredentialsFile. Extra
// options are appended, so tests can point the client at a fake endpoint.
func New(ctx context.Context, cfg *config.SheetsConfig, opts ...option.ClientOption) (*Client, error) {
	base := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		base = append(base, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := sheetsapi.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg), nil
}

func NewWithService(svc *sheetsapi.Service, cfg *config.SheetsConfig) *Client {
	books := make(map[string]string, len(cfg.Spreadsheets))
	for k, v := range cfg.Spreadsheets {
		books[strings.ToLower(k)] = v
	}
	return &Client{
		svc:         svc,
		books:       books,
		defaultBook: cfg.DefaultSpreadsheetID,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (c *Client) spreadsheetID(book string) (string, error) {
	if id, ok := c.books[strings.ToLower(book)]; ok && id != "" {
		return id, nil
	}
	if c.defaultBook != "" {
		return c.defaultBook, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoSpreadsheet, book)
}

func (c *Client) lockSheet(spreadsheetID, sheet string) func() {
	key := spreadsheetID + "/" + sheet
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// EnsureSheet returns the sheet id of title, adding a 100x20 sheet when it is missing.
func (c *Client) EnsureSheet(ctx context.Context, spreadsheetID, title string) (int64, error) {
	if id, ok, err := c.findSheet(ctx, spreadsheetID, title); err != nil || ok {
		return id, err
	}

	resp, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{
					Title: title,
					GridProperties: &sheetsapi.GridProperties{
						RowCount:    newSheetRows,
						ColumnCount: newSheetCols,
					},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		// Another writer may have added it between the lookup and the request.
		if id, ok, findErr := c.findSheet(ctx, spreadsheetID, title); findErr == nil && ok {
			return id, nil
		}
		return 0, fmt.Errorf("add sheet %q: %w", title, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("add sheet %q: empty reply", title)
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

func (c *Client) findSheet(ctx context.Context, spreadsheetID, title string) (int64, bool, error) {
	ss, err := c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return s.Properties.SheetId, true, nil
		}
	}
	return 0, false, nil
}

func (c *Client) readAll(ctx context.Context, spreadsheetID, sheet string) ([][]interface{}, error) {
	vr, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, quoteSheet(sheet)).
		ValueRenderOption(renderUnformatted).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return vr.Values, nil
}

// FindAndReplace adds delta to the addressed cell and returns the new value.
func (c *Client) FindAndReplace(ctx context.Context, ref CellRef, delta int64) (int64, error) {
	spreadsheetID, err := c.spreadsheetID(ref.Book)
	if err != nil {
		return 0, err
	}
	unlock := c.lockSheet(spreadsheetID, ref.Sheet)
	defer unlock()

	if _, err := c.EnsureSheet(ctx, spreadsheetID, ref.Sheet); err != nil {
		return 0, err
	}
	rows, err := c.readAll(ctx, spreadsheetID, ref.Sheet)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: sheet %q is empty", ErrColumnNotFound, ref.Sheet)
	}

	header := rows[0]
	col := indexOf(header, ref.Column)
	if col < 0 {
		return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, ref.Column)
	}
	idCol := indexOf(header, ref.IdentifyColumn)
	if idCol < 0 {
		return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, ref.IdentifyColumn)
	}

	row := -1
	for i := 1; i < len(rows); i++ {
		if idCol < len(rows[i]) && cellString(rows[i][idCol]) == strings.TrimSpace(ref.IdentifyValue) {
			row = i
			break
		}
	}
	if row < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrRowNotFound, ref.IdentifyColumn, ref.IdentifyValue)
	}

	var current int64
	if col < len(rows[row]) {
		current, err = cellInt(rows[row][col])
		if err != nil {
			return 0, fmt.Errorf("cell %s%d: %w", ColumnLetter(col), row+1, err)
		}
	}
	total := current + delta

	cell := fmt.Sprintf("%s!%s%d", quoteSheet(ref.Sheet), ColumnLetter(col), row+1)
	_, err = c.svc.Spreadsheets.Values.Update(spreadsheetID, cell, &sheetsapi.ValueRange{
		Values: [][]interface{}{{total}},
	}).ValueInputOption(valueInputUserEntered).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", cell, err)
	}
	return total, nil
}

// AddRecord appends rec to sheet. Unless isDonation, a row whose first column
// already equals rec.Values[0] is left alone and created is false.
func (c *Client) AddRecord(ctx context.Context, book, sheet string, rec Record, isDonation bool) (bool, error) {
	if len(rec.Columns) == 0 || len(rec.Columns) != len(rec.Values) {
		return false, fmt.Errorf("record has %d columns and %d values", len(rec.Columns), len(rec.Values))
	}
	spreadsheetID, err := c.spreadsheetID(book)
	if err != nil {
		return false, err
	}
	unlock := c.lockSheet(spreadsheetID, sheet)
	defer unlock()

	sheetID, err := c.EnsureSheet(ctx, spreadsheetID, sheet)
	if err != nil {
		return false, err
	}
	rows, err := c.readAll(ctx, spreadsheetID, sheet)
	if err != nil {
		return false, err
	}

	if len(rows) == 0 || !sameHeader(rows[0], rec.Columns) {
		header := make([]interface{}, len(rec.Columns))
		for i, h := range rec.Columns {
			header[i] = h
		}
		_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, quoteSheet(sheet)+"!A1", &sheetsapi.ValueRange{
			Values: [][]interface{}{header},
		}).ValueInputOption(valueInputUserEntered).Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("write header: %w", err)
		}
	}

	if !isDonation {
		key := cellString(rec.Values[0])
		for i := 1; i < len(rows); i++ {
			if len(rows[i]) > 0 && cellString(rows[i][0]) == key {
				return false, nil
			}
		}
	}

	_, err = c.svc.Spreadsheets.Values.Append(spreadsheetID, quoteSheet(sheet)+"!A1", &sheetsapi.ValueRange{
		Values: [][]interface{}{rec.Values},
	}).ValueInputOption(valueInputUserEntered).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("append row: %w", err)
	}

	if rec.SortColumn != "" {
		if idx := indexOfString(rec.Columns, rec.SortColumn); idx >= 0 {
			if err := c.sortBy(ctx, spreadsheetID, sheetID, idx); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// LookupIdentifier finds the first row whose first column equals name and
// returns its second column. The payer sheets are laid out Name, Reg Number, ...
func (c *Client) LookupIdentifier(ctx context.Context, book, sheet, name string) (string, error) {
	spreadsheetID, err := c.spreadsheetID(book)
	if err != nil {
		return "", err
	}
	rows, err := c.readAll(ctx, spreadsheetID, sheet)
	if err != nil {
		return "", err
	}
	want := strings.TrimSpace(name)
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) > 1 && strings.EqualFold(cellString(rows[i][0]), want) {
			return cellString(rows[i][1]), nil
		}
	}
	return "", fmt.Errorf("%w: name=%q", ErrRowNotFound, name)
}

// Entry is one payer row of a sheet.
type Entry struct {
	Name       string `json:"name"`
	Identifier string `json:"reg_no"`
}

// Names lists the first two columns of every data row of sheet. A missing
// sheet is an error; rows with an empty name are skipped.
func (c *Client) Names(ctx context.Context, book, sheet string) ([]Entry, error) {
	spreadsheetID, err := c.spreadsheetID(book)
	if err != nil {
		return nil, err
	}
	rows, err := c.readAll(ctx, spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 || cellString(rows[i][0]) == "" {
			continue
		}
		e := Entry{Name: cellString(rows[i][0])}
		if len(rows[i]) > 1 {
			e.Identifier = cellString(rows[i][1])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Client) sortBy(ctx context.Context, spreadsheetID string, sheetID int64, col int) error {
	_, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			SortRange: &sheetsapi.SortRangeRequest{
				Range: &sheetsapi.GridRange{
					SheetId:         sheetID,
					StartRowIndex:   1,
					ForceSendFields: []string{"SheetId"},
				},
				SortSpecs: []*sheetsapi.SortSpec{{
					DimensionIndex:  int64(col),
					SortOrder:       "ASCENDING",
					ForceSendFields: []string{"DimensionIndex"},
				}},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sort sheet %d: %w", sheetID, err)
	}
	return nil
}

func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// ColumnLetter converts a zero-based column index to A1 notation.
func ColumnLetter(idx int) string {
	s := ""
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		s = string(rune('A'+(n-1)%26)) + s
	}
	return s
}

func indexOf(header []interface{}, name string) int {
	for i, h := range header {
		if strings.TrimSpace(cellString(h)) == name {
			return i
		}
	}
	return -1
}

func indexOfString(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func sameHeader(row []interface{}, cols []string) bool {
	if len(row) < len(cols) {
		return false
	}
	for i, c := range cols {
		if cellString(row[i]) != c {
			return false
		}
	}
	return true
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func cellInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(x), nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected cell type %T", v)
	}
}
