// Package export writes the working lead set to spreadsheets and files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat resolves a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "xlsx":
		return FormatXLSX, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// Header is the column order of tabular exports.
var Header = []string{
	"id", "name", "address", "phone", "website", "email", "rating",
	"tier", "score", "enrichment_status", "emails", "phones", "socials", "synthetic",
}

// Row flattens a lead into Header order.
func Row(l model.Lead) []string {
	var tier, score string
	if l.Classification != nil {
		tier = string(l.Classification.Tier)
		score = strconv.FormatFloat(l.Classification.Score, 'f', 1, 64)
	}
	var emails, phones, socials string
	if e := l.Enrichment; e != nil {
		emails = strings.Join(e.Emails, ";")
		phones = strings.Join(e.Phones, ";")
		pairs := make([]string, 0, len(e.Socials))
		for _, platform := range sortedKeys(e.Socials) {
			pairs = append(pairs, platform+"="+e.Socials[platform])
		}
		socials = strings.Join(pairs, ";")
	}
	rating := ""
	if l.Rating > 0 {
		rating = strconv.FormatFloat(l.Rating, 'f', 1, 64)
	}
	return []string{
		l.ID, l.Name, l.Address, l.Phone, l.Website, l.Email, rating,
		tier, score, string(l.EnrichmentStatus), emails, phones, socials,
		strconv.FormatBool(l.Synthetic),
	}
}

// Write writes leads to w in the given format.
func Write(w io.Writer, f Format, leads []model.Lead) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, leads)
	case FormatCSV:
		return WriteCSV(w, leads)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(leads), "export: encode json")
	default:
		return eris.Errorf("export: unknown format %q", f)
	}
}

// WriteXLSX writes leads as a single "Leads" sheet with a header row.
func WriteXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Header {
		header.AddCell().SetString(h)
	}
	for _, l := range leads {
		row := sheet.AddRow()
		for i, v := range Row(l) {
			cell := row.AddCell()
			if (Header[i] == "rating" || Header[i] == "score") && v != "" {
				n, _ := strconv.ParseFloat(v, 64)
				cell.SetFloat(n)
				continue
			}
			cell.SetString(v)
		}
	}

	return eris.Wrap(f.Write(w), "xlsx: write file")
}

// ReadXLSX reads a sheet written by WriteXLSX back into string rows,
// header included.
func ReadXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet["Leads"]
	if !ok {
		return nil, eris.New("xlsx: sheet \"Leads\" not found")
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// WriteCSV writes leads as CSV with a header row.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, l := range leads {
		if err := cw.Write(Row(l)); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
