package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/xuri/excelize/v2"

	"vyapaar/internal"
)

var ErrNoTable = errors.New("no table with a header row found")

var spaceRun = regexp.MustCompile(`\s+`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SourceFromFilename guesses the reader for a file by its extension.
func SourceFromFilename(name string) (internal.TableSource, bool) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv", ".txt", ".tsv":
		return internal.SourceCSV, true
	case ".xlsx", ".xlsm":
		return internal.SourceXLSX, true
	case ".html", ".htm":
		return internal.SourceHTMLTable, true
	case ".eml":
		return internal.SourceEmail, true
	}
	return "", false
}

// ReadTable parses content of the given source into a RawTable. For email the
// first extractable attachment (or body table) is returned.
func ReadTable(source internal.TableSource, content []byte) (internal.RawTable, error) {
	switch source {
	case internal.SourceCSV:
		return ReadCSV(content)
	case internal.SourceXLSX:
		return ReadXLSX(content)
	case internal.SourceHTMLTable:
		return ReadHTMLTable(content)
	case internal.SourceEmail:
		mail, err := ExtractTablesFromEmailRaw(content)
		if err != nil {
			return internal.RawTable{}, err
		}
		if len(mail.Tables) == 0 {
			return internal.RawTable{}, ErrNoTable
		}
		return mail.Tables[0].Table, nil
	default:
		return internal.RawTable{}, fmt.Errorf("unsupported input type: %s", source)
	}
}

// ReadCSV reads delimited text. A UTF-8 BOM is dropped and the delimiter is
// picked among comma, semicolon and tab by counting them in the header line.
func ReadCSV(content []byte) (internal.RawTable, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = sniffDelimiter(content)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return internal.RawTable{}, fmt.Errorf("read csv: %w", err)
	}
	return tableFromRows(records)
}

func sniffDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// ReadXLSX reads the first sheet that has any non-blank row.
func ReadXLSX(content []byte) (internal.RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return internal.RawTable{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		table, err := tableFromRows(rows)
		if errors.Is(err, ErrNoTable) {
			continue
		}
		return table, err
	}
	return internal.RawTable{}, ErrNoTable
}

// ReadHTMLTable reads the first <table> with a header row and at least one
// data row.
func ReadHTMLTable(content []byte) (internal.RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return internal.RawTable{}, fmt.Errorf("parse html: %w", err)
	}

	var (
		found internal.RawTable
		ok    bool
	)
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		rows := [][]string{}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, normalizeSpaces(cell.Text()))
			})
			rows = append(rows, cells)
		})
		if len(rows) < 2 {
			return true
		}
		t, err := tableFromRows(rows)
		if err != nil || len(t.Rows) == 0 {
			return true
		}
		found, ok = t, true
		return false
	})
	if !ok {
		return internal.RawTable{}, ErrNoTable
	}
	return found, nil
}

// MailTable is one sales table pulled out of an email.
type MailTable struct {
	Filename string
	Source   internal.TableSource
	Table    internal.RawTable
}

type MailExtraction struct {
	Subject string
	From    string
	Tables  []MailTable
	// Skipped holds attachment names that were not readable as tables, with
	// the reason.
	Skipped []string
}

// ExtractTablesFromEmailRaw parses a raw RFC 822 message and reads every
// CSV, XLSX or HTML attachment as a table. An HTML body with a table is used
// when no attachment yields one.
func ExtractTablesFromEmailRaw(raw []byte) (MailExtraction, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return MailExtraction{}, fmt.Errorf("read envelope: %w", err)
	}

	out := MailExtraction{
		Subject: env.GetHeader("Subject"),
		From:    senderAddress(env.GetHeader("From")),
	}

	parts := append([]*enmime.Part{}, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, att := range parts {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		source, ok := SourceFromFilename(filename)
		if !ok || source == internal.SourceEmail {
			out.Skipped = append(out.Skipped, filename+": unsupported file type")
			continue
		}
		table, err := ReadTable(source, att.Content)
		if err != nil {
			out.Skipped = append(out.Skipped, fmt.Sprintf("%s: %v", filename, err))
			continue
		}
		out.Tables = append(out.Tables, MailTable{Filename: filename, Source: source, Table: table})
	}

	if len(out.Tables) == 0 && env.HTML != "" {
		if table, err := ReadHTMLTable([]byte(env.HTML)); err == nil {
			out.Tables = append(out.Tables, MailTable{Filename: "body.html", Source: internal.SourceHTMLTable, Table: table})
		}
	}
	return out, nil
}

func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			from = from[i+1 : j]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// tableFromRows takes the first non-blank row as the header and keeps every
// later non-blank row.
func tableFromRows(rows [][]string) (internal.RawTable, error) {
	start := -1
	for i, row := range rows {
		if !blankRow(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return internal.RawTable{}, ErrNoTable
	}

	table := internal.RawTable{Columns: normalizeCells(rows[start]), Rows: make([][]string, 0, len(rows)-start-1)}
	for _, row := range rows[start+1:] {
		if blankRow(row) {
			continue
		}
		table.Rows = append(table.Rows, normalizeCells(row))
	}
	return table, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeSpaces(input string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(input, " "))
}

func normalizeCells(row []string) []string {
	out := make([]string, 0, len(row))
	for _, c := range row {
		out = append(out, normalizeSpaces(c))
	}
	return out
}
