package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the access matrix workbook
const (
	SheetUsers  = "Users"
	SheetMatrix = "Matrix"
)

// WriteWorkbook renders the matrix as an xlsx workbook. The Users sheet lists each user's roles,
// permissions and visible menu keys; the Matrix sheet has one column per permission code.
func WriteWorkbook(m *Matrix, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	// The default sheet becomes the Users sheet
	if err := f.SetSheetName("Sheet1", SheetUsers); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	usersHeader := []string{"User ID", "Roles", "Permissions", "Visible menu"}
	if err := writeRow(f, SheetUsers, 1, usersHeader, headerStyle); err != nil {
		return err
	}
	for i, row := range m.Rows {
		values := []interface{}{
			row.UserID,
			strings.Join(row.Roles, ", "),
			strings.Join(row.Permissions, ", "),
			strings.Join(row.MenuKeys, ", "),
		}
		if err := writeValues(f, SheetUsers, i+2, values); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SheetUsers, "A", "A", 10); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(SheetUsers, "B", "D", 50); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if _, err := f.NewSheet(SheetMatrix); err != nil {
		return fmt.Errorf("failed to create matrix sheet: %w", err)
	}
	codes := m.Codes()
	matrixHeader := append([]string{"User ID"}, codes...)
	if err := writeRow(f, SheetMatrix, 1, matrixHeader, headerStyle); err != nil {
		return err
	}
	for i, row := range m.Rows {
		held := make(map[string]bool, len(row.Permissions))
		for _, code := range row.Permissions {
			held[code] = true
		}
		values := make([]interface{}, 0, len(codes)+1)
		values = append(values, row.UserID)
		for _, code := range codes {
			mark := ""
			if held[code] {
				mark = "x"
			}
			values = append(values, mark)
		}
		if err := writeValues(f, SheetMatrix, i+2, values); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, header []string, style int) error {
	for i, value := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to style %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func writeValues(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}
