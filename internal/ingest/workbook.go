package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// MaxWorkbookRows caps how many data rows are read from one upload.
const MaxWorkbookRows = 5000

// headerAliases maps normalized header text to record fields.
var headerAliases = map[string]string{
	"customer":       "customer",
	"customer name":  "customer",
	"customername":   "customer",
	"client":         "customer",
	"party":          "customer",
	"amount":         "amount",
	"total":          "amount",
	"invoice amount": "amount",
	"balance":        "balance",
	"balance due":    "balance",
	"outstanding":    "balance",
	"currency":       "currency",
	"due date":       "due",
	"duedate":        "due",
	"due":            "due",
	"status":         "status",
	"external id":    "external",
	"externalid":     "external",
	"invoice no":     "external",
	"invoice number": "external",
	"invoice #":      "external",
	"emailed":        "emailed",
	"is emailed":     "emailed",
}

// ReadWorkbook reads invoice records from the first sheet of an xlsx file.
// The first row is the header; columns are matched by name, case-insensitively.
// Blank rows are skipped. Cell errors are reported against their row and the
// rest of the sheet is still read.
func ReadWorkbook(r io.Reader) ([]Record, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	raw, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read sheet: %w", err)
	}
	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	columns := make(map[string]int)
	for i, h := range rows[0] {
		if field, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, dup := columns[field]; !dup {
				columns[field] = i
			}
		}
	}
	if _, ok := columns["amount"]; !ok {
		return nil, nil, fmt.Errorf("workbook header has no amount column")
	}

	cell := func(row []string, field string) string {
		i, ok := columns[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []Record
	var rowErrs []RowError
	for n, row := range rows[1:] {
		if n >= MaxWorkbookRows {
			break
		}
		if blank(row) {
			continue
		}
		line := n + 2

		rec := Record{
			CustomerName: cell(row, "customer"),
			Currency:     cell(row, "currency"),
			Status:       cell(row, "status"),
			ExternalID:   cell(row, "external"),
		}

		var rawRow []string
		if n+1 < len(raw) {
			rawRow = raw[n+1]
		}
		due, err := dueDate(cell(row, "due"), cell(rawRow, "due"), date1904)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: line, Reason: "due date: " + err.Error()})
			continue
		}
		rec.DueDate = due

		amount, err := ParseAmount(cell(row, "amount"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: line, Reason: "amount: " + err.Error()})
			continue
		}
		rec.Amount = amount

		balance, err := ParseAmount(cell(row, "balance"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: line, Reason: "balance: " + err.Error()})
			continue
		}
		rec.Balance = balance

		if v := cell(row, "emailed"); v != "" {
			emailed, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				emailed = strings.EqualFold(v, "yes") || strings.EqualFold(v, "y")
			}
			rec.IsEmailed = &emailed
		}

		records = append(records, rec)
	}

	return records, rowErrs, nil
}

// dueDate returns the due date text of a cell. Date-typed cells hold an
// Excel serial number underneath their display format; those are converted
// to YYYY-MM-DD.
func dueDate(shown, raw string, date1904 bool) (string, error) {
	if shown == "" {
		return "", nil
	}
	if _, err := domain.ParseDate(shown); err == nil {
		return shown, nil
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return shown, nil
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return "", err
	}
	return t.Format(domain.DateLayout), nil
}

// ParseAmount accepts plain numbers with optional thousands separators and
// a leading currency symbol. Blank is nil.
func ParseAmount(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimLeft(s, "₹$€£ ")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "INR"), "Rs.")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return &d, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

const summarySheet = "Customers"

// WriteSummaries exports customer summaries as an xlsx workbook.
func WriteSummaries(w io.Writer, summaries []*aggregate.CustomerSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := []any{
		"Customer", "Contact", "Email", "Phone", "Outstanding", "Billed",
		"Max Overdue Days", "Stage", "Risk", "Invoices", "Unpaid", "Next Due",
	}
	if err := f.SetSheetRow(summarySheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, s := range summaries {
		var contact, email, phone string
		if s.Record != nil {
			contact, email, phone = s.Record.ContactPerson, s.Record.Email, s.Record.Phone
		}
		nextDue := ""
		if !s.NextDueDate.IsZero() {
			nextDue = s.NextDueDate.String()
		}

		row := []any{
			s.Name, contact, email, phone,
			s.TotalOutstanding.InexactFloat64(), s.TotalBilled.InexactFloat64(),
			s.MaxOverdueDays, int(s.CurrentEscalation), string(s.RiskLevel),
			s.InvoiceCount, s.UnpaidCount, nextDue,
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, addr, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
