package mortality

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/okian/avisurv/internal/domain/model"
)

// Format names a supported export layout.
type Format string

const (
	FormatDWHC  Format = "dwhc_csv"
	FormatSovon Format = "sovon_csv"
)

// column lists accepted header spellings for one field.
type column []string

var (
	dwhcColumns = map[string]column{
		"id":       {"case_id", "CaseID"},
		"species":  {"species", "Species"},
		"date":     {"date_found", "DateFound"},
		"province": {"province", "Province"},
		"tested":   {"usuv_tested", "USUV_Tested"},
		"result":   {"usuv_result", "USUV_Result"},
	}
	sovonColumns = map[string]column{
		"id":       {"report_id", "ReportID"},
		"species":  {"species", "Soort"},
		"date":     {"date", "Datum"},
		"province": {"province", "Provincie"},
		"count":    {"count", "Aantal"},
	}
	required = []string{"species", "date", "province"}
)

// Parse reads a semicolon-delimited export. Rows that cannot be parsed are
// returned in rowErrs and skipped; a missing required header fails the
// whole file.
func Parse(r io.Reader, format Format) (reports []Report, rowErrs []error, err error) {
	var cols map[string]column
	switch format {
	case FormatDWHC:
		cols = dwhcColumns
	case FormatSovon:
		cols = sovonColumns
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idx := resolve(header, cols)
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, cols[name][0])
		}
	}

	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("%w: line %d: %v", ErrInvalidRecord, line, err))
			continue
		}
		rep, err := toReport(row, idx, format)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("%w: line %d: %v", ErrInvalidRecord, line, err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, rowErrs, nil
}

func resolve(header []string, cols map[string]column) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, h := range header {
		h = strings.TrimSpace(h)
		for name, spellings := range cols {
			for _, sp := range spellings {
				if strings.EqualFold(h, sp) {
					if _, seen := idx[name]; !seen {
						idx[name] = i
					}
				}
			}
		}
	}
	return idx
}

func field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func toReport(row []string, idx map[string]int, format Format) (Report, error) {
	rep := Report{
		ID:       field(row, idx, "id"),
		Species:  field(row, idx, "species"),
		Province: Province(field(row, idx, "province")),
		Count:    1,
	}
	if rep.Species == "" {
		return Report{}, errors.New("missing species")
	}
	date := field(row, idx, "date")
	d, ok := parseDate(date)
	if !ok {
		return Report{}, fmt.Errorf("unparseable date %q", date)
	}
	rep.Date = model.Day(d)

	switch format {
	case FormatDWHC:
		rep.Source = SourceDWHC
		rep.Tested, rep.Positive = usuvResult(field(row, idx, "result"))
		switch strings.ToUpper(field(row, idx, "tested")) {
		case "YES", "TRUE", "1", "POS", "NEG", "POSITIVE", "NEGATIVE":
			rep.Tested = true
		}
	case FormatSovon:
		rep.Source = SourceSovon
		if c := field(row, idx, "count"); c != "" {
			n, err := strconv.Atoi(c)
			if err != nil || n < 1 {
				return Report{}, fmt.Errorf("invalid count %q", c)
			}
			rep.Count = n
		}
	}
	return rep, nil
}
