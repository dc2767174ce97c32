package sheets

import (
	"context"
	"sync"
	"testing"

	"autopay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = &config.SheetsConfig{
	DefaultSpreadsheetID: "default-book",
	Spreadsheets:         map[string]string{"School": "school-book"},
}

func sopranoSheet(f *fakeSheets) {
	f.seed("Soprano",
		[]interface{}{"Name", "Reg Number", "Paid"},
		[]interface{}{"Ada Lovelace", "2020/241781", float64(1000)},
		[]interface{}{"Grace Hopper", "2020/241782", ""},
	)
}

func TestFindAndReplace_AddsToCurrentValue(t *testing.T) {
	f := newFakeSheets()
	sopranoSheet(f)
	c := f.client(t, testCfg)

	total, err := c.FindAndReplace(context.Background(), CellRef{
		Book:           "school",
		Sheet:          "Soprano",
		IdentifyColumn: "Reg Number",
		IdentifyValue:  "2020/241781",
		Column:         "Paid",
	}, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), total)
	assert.Equal(t, float64(6000), f.rows("Soprano")[1][2])

	total, err = c.FindAndReplace(context.Background(), CellRef{
		Book: "school", Sheet: "Soprano", IdentifyColumn: "Reg Number", IdentifyValue: "2020/241782", Column: "Paid",
	}, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), total)
}

func TestFindAndReplace_Misses(t *testing.T) {
	f := newFakeSheets()
	sopranoSheet(f)
	c := f.client(t, testCfg)
	ctx := context.Background()

	_, err := c.FindAndReplace(ctx, CellRef{Book: "school", Sheet: "Soprano", IdentifyColumn: "Reg Number", IdentifyValue: "nobody", Column: "Paid"}, 1)
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, err = c.FindAndReplace(ctx, CellRef{Book: "school", Sheet: "Soprano", IdentifyColumn: "Reg Number", IdentifyValue: "2020/241781", Column: "Owed"}, 1)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	// A missing sheet is created, then the lookup fails on its empty header.
	_, err = c.FindAndReplace(ctx, CellRef{Book: "school", Sheet: "Alto", IdentifyColumn: "Reg Number", IdentifyValue: "x", Column: "Paid"}, 1)
	assert.ErrorIs(t, err, ErrColumnNotFound)
	assert.Equal(t, 1, f.addCalls)
	assert.Equal(t, 0, f.updates)
}

func TestFindAndReplace_ConcurrentIncrementsSerialize(t *testing.T) {
	f := newFakeSheets()
	sopranoSheet(f)
	c := f.client(t, testCfg)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FindAndReplace(context.Background(), CellRef{
				Book: "school", Sheet: "Soprano", IdentifyColumn: "Reg Number", IdentifyValue: "2020/241781", Column: "Paid",
			}, 100)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(1500), f.rows("Soprano")[1][2])
}

func TestAddRecord_CreatesSheetAndHeader(t *testing.T) {
	f := newFakeSheets()
	c := f.client(t, testCfg)
	ctx := context.Background()
	rec := Record{Columns: []string{"Name", "Paid"}, Values: []interface{}{"Zed", 300}, SortColumn: "Name"}

	created, err := c.AddRecord(ctx, "dues", "Donations", rec, true)
	require.NoError(t, err)
	assert.True(t, created)

	rec.Values = []interface{}{"Amy", 200}
	created, err = c.AddRecord(ctx, "dues", "Donations", rec, true)
	require.NoError(t, err)
	assert.True(t, created)

	// Donations are never deduplicated.
	created, err = c.AddRecord(ctx, "dues", "Donations", rec, true)
	require.NoError(t, err)
	assert.True(t, created)

	rows := f.rows("Donations")
	require.Len(t, rows, 4)
	assert.Equal(t, []interface{}{"Name", "Paid"}, rows[0])
	assert.Equal(t, "Amy", rows[1][0])
	assert.Equal(t, "Zed", rows[3][0])
	assert.Equal(t, 1, f.addCalls)
}

func TestAddRecord_SkipsDuplicateForNonDonation(t *testing.T) {
	f := newFakeSheets()
	f.seed("Members", []interface{}{"Name", "Paid"}, []interface{}{"Ada", float64(1)})
	c := f.client(t, testCfg)

	created, err := c.AddRecord(context.Background(), "school", "Members",
		Record{Columns: []string{"Name", "Paid"}, Values: []interface{}{"Ada", 5}}, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, f.rows("Members"), 2)
}

func TestAddRecord_RejectsMismatchedRecord(t *testing.T) {
	c := newFakeSheets().client(t, testCfg)
	_, err := c.AddRecord(context.Background(), "school", "X", Record{Columns: []string{"Name"}}, true)
	assert.Error(t, err)
}

func TestLookupIdentifier(t *testing.T) {
	f := newFakeSheets()
	sopranoSheet(f)
	c := f.client(t, testCfg)

	id, err := c.LookupIdentifier(context.Background(), "school", "Soprano", " grace hopper ")
	require.NoError(t, err)
	assert.Equal(t, "2020/241782", id)

	_, err = c.LookupIdentifier(context.Background(), "school", "Soprano", "Nobody")
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestNames(t *testing.T) {
	f := newFakeSheets()
	sopranoSheet(f)
	f.seed("Alto", []interface{}{"Name", "Reg Number"}, []interface{}{}, []interface{}{"Solo"})
	c := f.client(t, testCfg)

	names, err := c.Names(context.Background(), "school", "Soprano")
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "Ada Lovelace", Identifier: "2020/241781"},
		{Name: "Grace Hopper", Identifier: "2020/241782"},
	}, names)

	names, err = c.Names(context.Background(), "school", "Alto")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "Solo"}}, names)
}

func TestSpreadsheetID(t *testing.T) {
	c := NewWithService(nil, testCfg)

	id, err := c.spreadsheetID("SCHOOL")
	require.NoError(t, err)
	assert.Equal(t, "school-book", id)

	id, err = c.spreadsheetID("other")
	require.NoError(t, err)
	assert.Equal(t, "default-book", id)

	_, err = NewWithService(nil, &config.SheetsConfig{}).spreadsheetID("other")
	assert.ErrorIs(t, err, ErrNoSpreadsheet)
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "C", ColumnLetter(2))
	assert.Equal(t, "Z", ColumnLetter(25))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "AZ", ColumnLetter(51))
}

func TestCellInt(t *testing.T) {
	for in, want := range map[interface{}]int64{nil: 0, "": 0, "1,500": 1500, float64(42): 42, "7.0": 7} {
		got, err := cellInt(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := cellInt("abc")
	assert.Error(t, err)
}
