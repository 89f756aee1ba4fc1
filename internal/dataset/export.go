package dataset

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"view-aspects-go/internal/types"
)

// Export writes v to path as three sheets: View, Aspects and References.
func Export(v *types.View, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "View"); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	viewRows := [][]any{
		{"Title", v.Title},
		{"Description", v.Description},
		{"Summary", v.Summary},
		{"Seed", v.Seed},
		{"Language", v.Language},
		{"User input", v.UserInput},
		{"User input description", v.UserInputDescription},
	}
	if err := writeRows(f, "View", viewRows); err != nil {
		return err
	}

	aspectRows := [][]any{{"Rank", "Title", "Description", "Summary", "Image URL", "References"}}
	refRows := [][]any{{"Aspect rank", "Aspect", "Segment ID", "Description", "Relevant index", "Verbatim transcript"}}
	for rank, a := range v.Aspects {
		aspectRows = append(aspectRows, []any{rank, a.Title, a.Description, a.Summary, a.ImageURL, len(a.Segments)})
		for _, s := range a.Segments {
			refRows = append(refRows, []any{rank, a.Title, s.ID, s.Description, s.RelevantIndex, s.VerbatimTranscript})
		}
	}
	for _, sheet := range []string{"Aspects", "References"} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("new sheet %s: %w", sheet, err)
		}
	}
	if err := writeRows(f, "Aspects", aspectRows); err != nil {
		return err
	}
	if err := writeRows(f, "References", refRows); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, r := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &r); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
