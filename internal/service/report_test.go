package service

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"barstock/backend/internal/domain"
)

func TestSalesReportFallsBackToSoldQuantity(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Corona Extra", 355, "2.50", 10)

	// Reconcile for today: every audit row carries today's timestamp, so
	// there is no update strictly before the report day and previous
	// stock falls back to the sold quantity.
	if _, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		Items: map[string]int{product.ID: 4},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rows, err := env.svc.SalesReport(env.ctx, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one report row, got %d", len(rows))
	}
	row := rows[0]
	if row.PrevStock != 4 || row.PresentStock != 0 {
		t.Fatalf("expected fallback prev=4 present=0, got prev=%d present=%d",
			row.PrevStock, row.PresentStock)
	}
	if row.TotalPrice.StringFixed(2) != "10.00" {
		t.Fatalf("expected total 10.00, got %s", row.TotalPrice.StringFixed(2))
	}
}

func TestSalesReportUsesAuditTrailForPrevStock(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Jameson", 750, "32.99", 10)

	// A report dated after the stock movements reads previous stock from
	// the latest audit row before the report day.
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(domain.DateLayout)
	if _, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: tomorrow,
		Items:    map[string]int{product.ID: 4},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rows, err := env.svc.SalesReport(env.ctx, tomorrow)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one report row, got %d", len(rows))
	}
	row := rows[0]
	if row.PresentStock != row.PrevStock-row.QuantitySold {
		t.Fatalf("present stock must equal prev minus sold, got prev=%d sold=%d present=%d",
			row.PrevStock, row.QuantitySold, row.PresentStock)
	}
	if row.PrevStock != 6 {
		t.Fatalf("expected prev stock 6 from audit trail, got %d", row.PrevStock)
	}
}

func TestExportSalesCSV(t *testing.T) {
	env := newTestEnv(t)
	beer := env.addProduct(t, "Corona Extra", 355, "2.50", 20)
	stout := env.addProduct(t, "Guinness Draught", 440, "3.25", 20)

	if _, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		Items: map[string]int{beer.ID: 4, stout.ID: 2},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var buf bytes.Buffer
	if err := env.svc.ExportSalesCSV(env.ctx, "", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	// Header, two sale rows, blank separator, total row.
	if len(records) != 5 {
		t.Fatalf("expected 5 csv records, got %d", len(records))
	}
	if records[0][0] != "Product" || records[0][6] != "Total Price ($)" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "Corona Extra" || records[1][6] != "10.00" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
	if records[2][0] != "Guinness Draught" || records[2][6] != "6.50" {
		t.Fatalf("unexpected second row: %v", records[2])
	}
	total := records[4]
	if total[5] != "Total" || total[6] != "16.50" {
		t.Fatalf("unexpected total row: %v", total)
	}
}

func TestExportSalesXLSX(t *testing.T) {
	env := newTestEnv(t)
	beer := env.addProduct(t, "Corona Extra", 355, "2.50", 20)

	if _, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		Items: map[string]int{beer.ID: 4},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var buf bytes.Buffer
	if err := env.svc.ExportSalesXLSX(env.ctx, "", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	header, err := f.GetCellValue("Sales", "A1")
	if err != nil || header != "Product" {
		t.Fatalf("expected Product header, got %q (err %v)", header, err)
	}
	name, err := f.GetCellValue("Sales", "A2")
	if err != nil || name != "Corona Extra" {
		t.Fatalf("expected Corona Extra row, got %q (err %v)", name, err)
	}
	label, err := f.GetCellValue("Sales", "F4")
	if err != nil || label != "Total" {
		t.Fatalf("expected Total label in F4, got %q (err %v)", label, err)
	}
	totalValue, err := f.GetCellValue("Sales", "G4")
	if err != nil || totalValue == "" {
		t.Fatalf("expected grand total in G4, got %q (err %v)", totalValue, err)
	}
}
