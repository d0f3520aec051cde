package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"barstock/backend/internal/domain"
)

var reportHeader = []string{
	"Product", "Category", "Volume (ml)", "Previous Stock",
	"Quantity Sold", "Present Stock", "Total Price ($)",
}

func (s *Service) SalesReport(ctx context.Context, date string) ([]domain.SalesReportRow, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	day, err := parseDateOrToday(date)
	if err != nil {
		return nil, err
	}
	return s.repo.SalesReport(ctx, actor.OrgID, day)
}

// ExportSalesCSV streams the daily sales report: one row per sale,
// then a blank row and a grand total.
func (s *Service) ExportSalesCSV(ctx context.Context, date string, w io.Writer) error {
	rows, err := s.SalesReport(ctx, date)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeader); err != nil {
		return err
	}

	total := decimal.Zero
	for _, row := range rows {
		record := []string{
			row.ProductName,
			row.Category,
			fmt.Sprintf("%d", row.VolumeML),
			fmt.Sprintf("%d", row.PrevStock),
			fmt.Sprintf("%d", row.QuantitySold),
			fmt.Sprintf("%d", row.PresentStock),
			row.TotalPrice.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		total = total.Add(row.TotalPrice)
	}

	if err := writer.Write([]string{"", "", "", "", "", "", ""}); err != nil {
		return err
	}
	if err := writer.Write([]string{"", "", "", "", "", "Total", total.StringFixed(2)}); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// ExportSalesXLSX renders the same report as a spreadsheet.
func (s *Service) ExportSalesXLSX(ctx context.Context, date string, w io.Writer) error {
	rows, err := s.SalesReport(ctx, date)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Sales"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	for col, title := range reportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
	}

	total := decimal.Zero
	for i, row := range rows {
		values := []any{
			row.ProductName,
			row.Category,
			row.VolumeML,
			row.PrevStock,
			row.QuantitySold,
			row.PresentStock,
			row.TotalPrice.InexactFloat64(),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
		total = total.Add(row.TotalPrice)
	}

	totalRow := len(rows) + 3
	labelCell, err := excelize.CoordinatesToCellName(6, totalRow)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, labelCell, "Total"); err != nil {
		return err
	}
	valueCell, err := excelize.CoordinatesToCellName(7, totalRow)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, valueCell, total.InexactFloat64()); err != nil {
		return err
	}

	return f.Write(w)
}
