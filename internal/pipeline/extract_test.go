package pipeline

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"vyapaar/internal"
)

func mkXLSX(rows [][]any) []byte {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	buf := bytes.NewBuffer(nil)
	_, _ = f.WriteTo(buf)
	return buf.Bytes()
}

func TestReadCSVDelimiters(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"comma", "Item,Qty,Left,Buyer\nTea,10,2,c1\n"},
		{"semicolon", "Item;Qty;Left;Buyer\nTea;10;2;c1\n"},
		{"tab", "Item\tQty\tLeft\tBuyer\nTea\t10\t2\tc1\n"},
		{"bom", "\ufeffItem,Qty,Left,Buyer\r\nTea,10,2,c1\r\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table, err := ReadCSV([]byte(tc.content))
			require.NoError(t, err)
			assert.Equal(t, []string{"Item", "Qty", "Left", "Buyer"}, table.Columns)
			assert.Equal(t, [][]string{{"Tea", "10", "2", "c1"}}, table.Rows)
		})
	}
}

func TestReadCSVRaggedAndBlankRows(t *testing.T) {
	table, err := ReadCSV([]byte("product,quantity\n\nTea,4\nSugar\n,\n"))
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "", table.Cell(1, 1))
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV([]byte("\n\n"))
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestReadXLSX(t *testing.T) {
	blob := mkXLSX([][]any{
		{"Product Name", "Units Sold", "Stock Remaining", "Customer ID"},
		{"Tea", 10, 2, "c1"},
		{"Sugar", 5, 9, "c2"},
	})
	table, err := ReadXLSX(blob)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product Name", "Units Sold", "Stock Remaining", "Customer ID"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "10", table.Rows[0][1])
}

func TestReadHTMLTable(t *testing.T) {
	html := `<html><body>
<table><tr><td>layout only</td></tr></table>
<table>
  <tr><th>Item</th><th>Qty</th><th>Left</th><th>Buyer</th></tr>
  <tr><td> Tea </td><td>10</td><td>2</td><td>c1</td></tr>
</table></body></html>`
	table, err := ReadHTMLTable([]byte(html))
	require.NoError(t, err)
	assert.Equal(t, []string{"Item", "Qty", "Left", "Buyer"}, table.Columns)
	assert.Equal(t, [][]string{{"Tea", "10", "2", "c1"}}, table.Rows)
}

func TestSourceFromFilename(t *testing.T) {
	cases := map[string]internal.TableSource{
		"march.CSV":  internal.SourceCSV,
		"sales.xlsx": internal.SourceXLSX,
		"report.htm": internal.SourceHTMLTable,
		"inbox.eml":  internal.SourceEmail,
	}
	for name, want := range cases {
		got, ok := SourceFromFilename(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := SourceFromFilename("scan.pdf")
	assert.False(t, ok)
}

func mkEmail(from string, attachments map[string][]byte) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: reports@vyapaar.example\r\n")
	b.WriteString("Subject: Monthly sales\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n\r\n")
	b.WriteString("--BOUNDARY\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nPlease find attached.\r\n")
	for name, content := range attachments {
		b.WriteString("--BOUNDARY\r\n")
		b.WriteString("Content-Type: application/octet-stream; name=\"" + name + "\"\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + name + "\"\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString(content) + "\r\n")
	}
	b.WriteString("--BOUNDARY--\r\n")
	return []byte(b.String())
}

func TestExtractTablesFromEmailRaw(t *testing.T) {
	raw := mkEmail("Asha Traders <Owner@Shop.in>", map[string][]byte{
		"march.csv": []byte("Item,Qty,Left,Buyer\nTea,10,2,c1\n"),
		"scan.pdf":  []byte("%PDF-1.4"),
	})

	mail, err := ExtractTablesFromEmailRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "Monthly sales", mail.Subject)
	assert.Equal(t, "owner@shop.in", mail.From)
	require.Len(t, mail.Tables, 1)
	assert.Equal(t, "march.csv", mail.Tables[0].Filename)
	assert.Equal(t, internal.SourceCSV, mail.Tables[0].Source)
	assert.Equal(t, [][]string{{"Tea", "10", "2", "c1"}}, mail.Tables[0].Table.Rows)
	require.Len(t, mail.Skipped, 1)
	assert.Contains(t, mail.Skipped[0], "scan.pdf")
}
