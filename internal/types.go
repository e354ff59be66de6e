package internal

import "time"

type TableSource string

const (
	SourceCSV       TableSource = "csv"
	SourceXLSX      TableSource = "xlsx"
	SourceHTMLTable TableSource = "html_table"
	SourceEmail     TableSource = "email"
)

// Canonical column names every cleaned table carries.
const (
	ColProduct      = "product"
	ColQuantitySold = "quantity_sold"
	ColStockLeft    = "stock_left"
	ColCustomerID   = "customer_id"
	ColDate         = "date"
)

// RawTable is a table as read from a delimited or spreadsheet source: arbitrary
// header names and untyped cells. Rows may be shorter than Columns.
type RawTable struct {
	Columns []string
	Rows    [][]string
}

// Cell returns the value at row r, column c, or "" when the row is ragged.
func (t RawTable) Cell(r, c int) string {
	if r < 0 || r >= len(t.Rows) || c < 0 || c >= len(t.Rows[r]) {
		return ""
	}
	return t.Rows[r][c]
}

type SalesRow struct {
	Product      string
	QuantitySold int
	StockLeft    int
	CustomerID   string
	// Date is nil when the table has no date column or the cell did not parse.
	Date  *time.Time
	Extra map[string]string
}

// SalesTable is the cleaned form of a RawTable. Columns lists the canonical
// columns present; Extra lists unclaimed raw columns in input order.
type SalesTable struct {
	Columns []string
	Extra   []string
	Rows    []SalesRow
}

func (t SalesTable) Has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

type UserRow struct {
	Phone     string
	Name      string
	Email     *string
	CreatedAt string
}

type UploadRow struct {
	ID        int
	Phone     string
	Filename  string
	Source    string
	RowCount  int
	CreatedAt string
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
