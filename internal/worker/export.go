package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sessiond/internal/config"
	"sessiond/internal/database"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// SettlementExporter writes finalized bookings and their transfer journal
// to an xlsx file. The file is the operator-facing settlement report.
type SettlementExporter struct {
	db     *database.DB
	cfg    config.ExportConfig
	logger zerolog.Logger
}

func NewSettlementExporter(db *database.DB, cfg config.ExportConfig, logger *zerolog.Logger) *SettlementExporter {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "settlement_export").Logger()
	}
	return &SettlementExporter{db: db, cfg: cfg, logger: base}
}

// Export writes all bookings finalized since the given time and returns the
// file path. Nothing finalized means no file.
func (e *SettlementExporter) Export(ctx context.Context, since time.Time) (string, error) {
	bookings, err := e.db.ListFinalizedBookings(ctx, since)
	if err != nil {
		return "", fmt.Errorf("list finalized bookings: %w", err)
	}
	if len(bookings) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(e.cfg.Path, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Settlements"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Booking ID", "Slot ID", "Host", "Guest", "Amount",
		"Outcome", "Finalized At", "Transfers",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, booking := range bookings {
		row := i + 2

		host := ""
		if slot, err := e.db.GetSlot(ctx, booking.SlotID); err == nil {
			host = slot.Host
		}

		transfers, err := e.db.ListTransfers(ctx, booking.ID)
		if err != nil {
			e.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("list transfers failed")
		}
		lines := make([]string, 0, len(transfers))
		for _, tr := range transfers {
			switch tr.Kind {
			case models.TransferEscrowIn:
				lines = append(lines, fmt.Sprintf("%s %d from %s", tr.Kind, tr.Amount, tr.From))
			default:
				lines = append(lines, fmt.Sprintf("%s %d to %s", tr.Kind, tr.Amount, tr.To))
			}
		}

		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), booking.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), booking.SlotID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), host)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), booking.Guest)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), booking.Amount)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), booking.Outcome)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), booking.UpdatedAt.Format("02.01.2006 15:04"))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), strings.Join(lines, "\n"))
	}

	_ = f.SetColWidth(sheetName, "A", "B", 12)
	_ = f.SetColWidth(sheetName, "C", "D", 20)
	_ = f.SetColWidth(sheetName, "E", "G", 16)
	_ = f.SetColWidth(sheetName, "H", "H", 48)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("settlements_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.cfg.Path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save export file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("settlement export written")
	return filePath, nil
}
