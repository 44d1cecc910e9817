package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yamitzky/xlread-go/xlread"
)

const sampleCSV = "name,price\napple,1.25\n\"pear, ripe\",2\n"

// writeSample saves a workbook with the sheets Data, Dates and Merged.
// Data carries a formula-only cell in C2 and the table Fruit.
func writeSample(t *testing.T, dir, name string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "Data"))
	for i, row := range [][]interface{}{{"name", "price"}, {"apple", 1.25}, {"pear, ripe", 2}} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Data", cell, &row))
	}
	require.NoError(t, f.SetCellFormula("Data", "C2", "B2*2"))
	require.NoError(t, f.AddTable("Data", &excelize.Table{Range: "A1:B3", Name: "Fruit"}))

	_, err := f.NewSheet("Dates")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Dates", "A1", 38406))
	style, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle("Dates", "A1", "A1", style))

	_, err = f.NewSheet("Merged")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Merged", "A1", "wide"))
	require.NoError(t, f.SetCellValue("Merged", "A2", "x"))
	require.NoError(t, f.SetCellValue("Merged", "B2", "y"))
	require.NoError(t, f.MergeCell("Merged", "A1", "B1"))

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func runCLI(t *testing.T, stdin io.Reader, args ...string) (string, string, int) {
	t.Helper()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var stdout, stderr bytes.Buffer
	code := run(args, stdin, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestCSV(t *testing.T) {
	book := writeSample(t, t.TempDir(), "book.xlsx")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"first sheet", nil, sampleCSV},
		{"tab delimiter", []string{"-d", "tab"}, "name\tprice\napple\t1.25\npear, ripe\t2\n"},
		{"quote all", []string{"-q", "all"}, "\"name\",\"price\"\n\"apple\",\"1.25\"\n\"pear, ripe\",\"2\"\n"},
		{"quote nonnumeric", []string{"-q", "nonnumeric"}, "\"name\",\"price\"\n\"apple\",1.25\n\"pear, ripe\",2\n"},
		{"float format", []string{"--floatformat", "%.2f"}, "name,price\napple,1.25\n\"pear, ripe\",2.00\n"},
		{"line terminator", []string{"-l", `\r\n`}, strings.ReplaceAll(sampleCSV, "\n", "\r\n")},
		{"sheet by number", []string{"-s", "2"}, "2005-02-23\n"},
		{"sheet by name", []string{"-n", "Dates", "-f", "%Y/%m/%d"}, "2005/02/23\n"},
		{"merged", []string{"-n", "Merged"}, "wide,\nx,y\n"},
		{"merge cells", []string{"-n", "Merged", "-m"}, "wide,wide\nx,y\n"},
		{"all sheets", []string{"-a"}, sampleCSV + "--------\n2005-02-23\n--------\nwide,\nx,y\n"},
		{"include pattern", []string{"-a", "-I", "^D", "-p", `\f`}, sampleCSV + "\f\n2005-02-23\n"},
		{"exclude pattern", []string{"-a", "-E", "^D", "-p", ""}, "wide,\nx,y\n"},
		{"formulas", []string{"--formulas"}, "name,price,\napple,1.25,B2*2\n\"pear, ripe\",2,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"csv"}, tt.args...)
			out, errOut, code := runCLI(t, nil, append(args, book)...)
			require.Equal(t, 0, code, errOut)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCSVUsageErrors(t *testing.T) {
	book := writeSample(t, t.TempDir(), "book.xlsx")
	tests := map[string][]string{
		"sheetname with all": {"csv", "-a", "-n", "Data", book},
		"bad quoting":        {"csv", "-q", "some", book},
		"bad delimiter":      {"csv", "-d", "", book},
		"bad pattern":        {"csv", "-a", "-I", "(", book},
		"missing sheet":      {"csv", "-n", "Nope", book},
		"sheet out of range": {"csv", "-s", "9", book},
		"missing input":      {"csv", filepath.Join(t.TempDir(), "none.xlsx")},
		"no arguments":       {"csv"},
		"bad log level":      {"--log-level", "loud", "csv", book},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, errOut, code := runCLI(t, nil, args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, "Error:")
		})
	}
}

func TestCSVStdin(t *testing.T) {
	data, err := os.ReadFile(writeSample(t, t.TempDir(), "book.xlsx"))
	require.NoError(t, err)
	out, errOut, code := runCLI(t, bytes.NewReader(data), "csv", "-")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, sampleCSV, out)
}

func TestCSVOutputFiles(t *testing.T) {
	dir := t.TempDir()
	book := writeSample(t, dir, "book.xlsx")

	single := filepath.Join(dir, "out.csv")
	_, errOut, code := runCLI(t, nil, "csv", book, single)
	require.Equal(t, 0, code, errOut)
	content, err := os.ReadFile(single)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(content))

	perSheet := filepath.Join(dir, "sheets")
	_, errOut, code = runCLI(t, nil, "csv", "-s", "0", book, perSheet)
	require.Equal(t, 0, code, errOut)
	for _, name := range []string{"book-Data.csv", "book-Dates.csv", "book-Merged.csv"} {
		assert.FileExists(t, filepath.Join(perSheet, name))
	}
	content, err = os.ReadFile(filepath.Join(perSheet, "book-Dates.csv"))
	require.NoError(t, err)
	assert.Equal(t, "2005-02-23\n", string(content))
}

func TestCSVDirectory(t *testing.T) {
	in := t.TempDir()
	writeSample(t, in, "a.xlsx")
	writeSample(t, in, "b.xlsx")
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("not a workbook"), 0o644))

	out := filepath.Join(t.TempDir(), "csv")
	_, errOut, code := runCLI(t, nil, "csv", in, out)
	require.Equal(t, 0, code, errOut)
	for _, name := range []string{"a.csv", "b.csv"} {
		content, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err)
		assert.Equal(t, sampleCSV, string(content))
	}
	assert.NoFileExists(t, filepath.Join(out, "notes.csv"))

	empty := t.TempDir()
	_, errOut, code = runCLI(t, nil, "csv", empty)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no workbooks found")
}

func TestConfigSources(t *testing.T) {
	dir := t.TempDir()
	book := writeSample(t, dir, "book.xlsx")
	cfgPath := filepath.Join(dir, "xlread.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("delimiter: \";\"\nquoting: all\n"), 0o644))

	out, errOut, code := runCLI(t, nil, "--config", cfgPath, "csv", book)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "\"name\";\"price\"\n\"apple\";\"1.25\"\n\"pear, ripe\";\"2\"\n", out)

	t.Setenv("XLREAD_QUOTING", "none")
	out, errOut, code = runCLI(t, nil, "--config", cfgPath, "csv", book)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "name;price\napple;1.25\npear, ripe;2\n", out, "env overrides the file")

	out, errOut, code = runCLI(t, nil, "--config", cfgPath, "csv", "-d", "tab", "-q", "minimal", book)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "name\tprice\napple\t1.25\npear, ripe\t2\n", out, "flags override env and file")

	_, errOut, code = runCLI(t, nil, "--config", filepath.Join(dir, "missing.yaml"), "csv", book)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "error reading config file")
}

func TestLogLevel(t *testing.T) {
	book := writeSample(t, t.TempDir(), "book.xlsx")
	_, errOut, code := runCLI(t, nil, "--log-level", "debug", "csv", book)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "workbook opened")

	_, errOut, code = runCLI(t, nil, "csv", book)
	require.Equal(t, 0, code, errOut)
	assert.Empty(t, errOut)
}

func TestSheetsCommand(t *testing.T) {
	book := writeSample(t, t.TempDir(), "book.xlsx")
	out, errOut, code := runCLI(t, nil, "sheets", book)
	require.Equal(t, 0, code, errOut)
	for _, want := range []string{"NAME", "Data", "Dates", "Merged", "WorkSheet", "Visible", "A1"} {
		assert.Contains(t, out, want)
	}
}

func TestTablesCommand(t *testing.T) {
	dir := t.TempDir()
	book := writeSample(t, dir, "book.xlsx")
	out, errOut, code := runCLI(t, nil, "tables", book)
	require.Equal(t, 0, code, errOut)
	for _, want := range []string{"Fruit", "Data", "name, price", "A2", "B3"} {
		assert.Contains(t, out, want)
	}

	xls := writeBIFF(t, dir)
	_, errOut, code = runCLI(t, nil, "tables", xls)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, xlread.ErrTablesNotSupported.Error())
}

// writeBIFF saves a bare BIFF8 stream holding an empty globals substream.
func writeBIFF(t *testing.T, dir string) string {
	t.Helper()
	bof := []byte{
		0x09, 0x08, 0x10, 0x00,
		0x00, 0x06, 0x05, 0x00, 0xBB, 0x0D, 0xCC, 0x07,
		0x00, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00,
	}
	eof := []byte{0x0A, 0x00, 0x00, 0x00}
	path := filepath.Join(dir, "empty.xls")
	require.NoError(t, os.WriteFile(path, append(bof, eof...), 0o644))
	return path
}

func TestDumpCommand(t *testing.T) {
	xls := writeBIFF(t, t.TempDir())

	out, errOut, code := runCLI(t, nil, "dump", xls)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "       0: 0809 BOF len = 0010 (16)")
	assert.Contains(t, out, "      20: 000a EOF len = 0000 (0)")

	out, errOut, code = runCLI(t, nil, "dump", "-u", xls)
	require.Equal(t, 0, code, errOut)
	assert.True(t, strings.HasPrefix(out, "0809 BOF len = 0010 (16)\n"), out)

	out, errOut, code = runCLI(t, nil, "dump", "--count", xls)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "       1 BOF\n       1 EOF\n", out)
}

func TestFieldSeparator(t *testing.T) {
	tests := []struct {
		in   string
		want fieldSeparator
	}{
		{",", ','},
		{"tab", '\t'},
		{"TAB", '\t'},
		{"X09", '\t'},
		{"x3b", ';'},
		{"|", '|'},
		{"é", 'é'},
	}
	for _, tt := range tests {
		var got fieldSeparator
		require.NoError(t, got.UnmarshalText([]byte(tt.in)), tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	var sep fieldSeparator
	assert.Error(t, sep.UnmarshalText(nil))
	assert.Error(t, sep.UnmarshalText([]byte("xzz")))
}

func TestSheetSeparator(t *testing.T) {
	for in, want := range map[string]sheetSeparator{`\f`: "\f", "x07": "\a", "": "", "===": "==="} {
		var got sheetSeparator
		require.NoError(t, got.UnmarshalText([]byte(in)), in)
		assert.Equal(t, want, got, in)
	}
}

func TestLineEnding(t *testing.T) {
	tests := []struct {
		in   string
		want lineEnding
	}{
		{`\r\n`, "\r\n"},
		{`a\\b\t`, "a\\b\t"},
		{`"`, `"`},
	}
	for _, tt := range tests {
		var got lineEnding
		require.NoError(t, got.UnmarshalText([]byte(tt.in)), tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	var l lineEnding
	assert.Error(t, l.UnmarshalText([]byte(`\`)))
	assert.Error(t, l.UnmarshalText([]byte(`\x`)))
}

func TestQuotingMode(t *testing.T) {
	for _, name := range []string{"none", "minimal", "nonnumeric", "all"} {
		var q quotingMode
		require.NoError(t, q.UnmarshalText([]byte(strings.ToUpper(name))))
		assert.Equal(t, name, q.String())
	}
	var q quotingMode
	err := q.UnmarshalText([]byte("some"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none, minimal, nonnumeric, all")
}

func TestSheetFilter(t *testing.T) {
	f, err := newSheetFilter(nil, nil)
	require.NoError(t, err)
	assert.True(t, f.allows("anything"))

	f, err = newSheetFilter([]string{"^2024", "^Total$"}, []string{"draft"})
	require.NoError(t, err)
	assert.True(t, f.allows("2024-01"))
	assert.True(t, f.allows("Total"))
	assert.False(t, f.allows("2023-12"))
	assert.False(t, f.allows("2024 draft"))

	_, err = newSheetFilter([]string{"("}, nil)
	assert.ErrorContains(t, err, "invalid include pattern")
	_, err = newSheetFilter(nil, []string{"["})
	assert.ErrorContains(t, err, "invalid exclude pattern")
}

func TestRenderCell(t *testing.T) {
	day := time.Date(2005, 2, 23, 6, 34, 0, 0, time.UTC)
	tests := []struct {
		name string
		v    xlread.Value
		opts csvOptions
		want field
	}{
		{"empty", xlread.Value{}, csvOptions{}, field{}},
		{"float", xlread.FloatValue(1.5), csvOptions{}, field{"1.5", true}},
		{"float format", xlread.FloatValue(1.5), csvOptions{floatFormat: "%.3f"}, field{"1.500", true}},
		{"int", xlread.IntValue(42), csvOptions{}, field{"42", true}},
		{"int float format", xlread.IntValue(42), csvOptions{floatFormat: "%.1f"}, field{"42.0", true}},
		{"bool", xlread.BoolValue(false), csvOptions{}, field{"FALSE", false}},
		{"error", xlread.ErrorValue("#N/A"), csvOptions{}, field{"#N/A", false}},
		{"date", xlread.DateValue(day), csvOptions{}, field{"2005-02-23", false}},
		{"datetime", xlread.DateTimeValue(day), csvOptions{}, field{"2005-02-23 06:34:00", false}},
		{"datetime format", xlread.DateTimeValue(day), csvOptions{dateFormat: "%d %b %Y %H:%M"}, field{"23 Feb 2005 06:34", false}},
		{"time format", xlread.TimeValue(xlread.TimeOfDay(10 * time.Hour)), csvOptions{dateFormat: "%H-%M-%S"}, field{"10-00-00", false}},
		{"duration", xlread.DurationValue(36 * time.Hour), csvOptions{}, field{"36:00:00", false}},
		{"escape", xlread.StringValue("a\tb\nc"), csvOptions{escape: true}, field{`a\tb\nc`, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderCell(tt.v, tt.opts))
		})
	}
}

func TestCSVWriterQuoting(t *testing.T) {
	cw := &csvWriter{sep: ';', quoting: quoteMinimal}
	assert.True(t, cw.quoted(field{text: "a;b"}))
	assert.True(t, cw.quoted(field{text: `say "hi"`}))
	assert.True(t, cw.quoted(field{text: "two\nlines"}))
	assert.False(t, cw.quoted(field{text: "a,b"}))
	assert.Equal(t, `"say ""hi"""`, string(cw.appendField(nil, field{text: `say "hi"`})))

	cw.quoting = quoteNone
	assert.False(t, cw.quoted(field{text: "a;b"}))

	var buf bytes.Buffer
	cw = newCSVWriter(&buf, csvOptions{separator: '\t', lineEnding: "\r\n", quoting: quoteNonNumeric})
	require.NoError(t, cw.writeRow([]field{{"x", false}, {"1", true}, {}}))
	require.NoError(t, cw.writeRow([]field{{"y", false}}))
	assert.Equal(t, "\"x\"\t1\t\"\"\r\n\"y\"\r\n", buf.String())
}

func TestStrftime(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "2024/03/09 14:05:07", strftime(ts, "%Y/%m/%d %H:%M:%S"))
	assert.Equal(t, "Sat, March 24 100%", strftime(ts, "%a, %B %y 100%%"))
	assert.Equal(t, "%q", strftime(ts, "%q"))
}
