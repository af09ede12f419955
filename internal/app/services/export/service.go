// Package export renders monthly entries as CSV or XLSX for download.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

// SheetName is the worksheet holding exported entries.
const SheetName = "Entries"

// Content types served by the export endpoints.
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// EntrySource lists the entries a caller may see.
type EntrySource interface {
	ListEntries(ctx context.Context, caller auth.Principal, filter entry.Filter) ([]entry.Entry, error)
}

// Column is one metric column of the export.
type Column struct {
	Key    string
	Header string
}

// Table is the export laid out as rows. Cells hold a string, a float64,
// or nil for a missing value.
type Table struct {
	Header []string
	Rows   [][]interface{}
}

// Service builds exports.
type Service struct {
	entries   EntrySource
	hospitals storage.HospitalStore
	variables storage.VariableStore
	catalog   metric.Catalog
	log       *logger.Logger
}

// New creates an export service.
func New(entries EntrySource, hospitals storage.HospitalStore, variables storage.VariableStore, catalog metric.Catalog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("export")
	}
	return &Service{entries: entries, hospitals: hospitals, variables: variables, catalog: catalog, log: log}
}

// Build loads the entries visible to caller and lays them out. Rows are
// ordered by month, then hospital name.
func (s *Service) Build(ctx context.Context, caller auth.Principal, filter entry.Filter) (Table, error) {
	entries, err := s.entries.ListEntries(ctx, caller, filter)
	if err != nil {
		return Table{}, err
	}
	hs, err := s.hospitals.ListHospitals(ctx)
	if err != nil {
		return Table{}, fmt.Errorf("list hospitals: %w", err)
	}
	names := make(map[string]string, len(hs))
	for _, h := range hs {
		names[h.ID] = h.Name
	}

	cols, err := s.columns(ctx, entries)
	if err != nil {
		return Table{}, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].MonthYear != entries[j].MonthYear {
			return entries[i].MonthYear < entries[j].MonthYear
		}
		return hospitalName(names, entries[i].HospitalID) < hospitalName(names, entries[j].HospitalID)
	})

	t := Table{Header: make([]string, 0, len(cols)+4), Rows: make([][]interface{}, 0, len(entries))}
	t.Header = append(t.Header, "Hospital", "Month")
	for _, c := range cols {
		t.Header = append(t.Header, c.Header)
	}
	t.Header = append(t.Header, "Submitted", "Submitted At")

	for _, e := range entries {
		row := make([]interface{}, 0, len(t.Header))
		row = append(row, hospitalName(names, e.HospitalID), e.MonthYear)
		for _, c := range cols {
			if v, ok := e.Value(c.Key); ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		submitted := "No"
		if e.Submitted {
			submitted = "Yes"
		}
		at := ""
		if e.SubmittedAt != nil {
			at = e.SubmittedAt.UTC().Format(time.RFC3339)
		}
		row = append(row, submitted, at)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// columns is the catalog followed by the enabled variables of every
// hospital in entries, deduplicated by key.
func (s *Service) columns(ctx context.Context, entries []entry.Entry) ([]Column, error) {
	cols := make([]Column, 0, len(s.catalog))
	seen := make(map[string]bool)
	for _, d := range s.catalog {
		seen[d.Key] = true
		cols = append(cols, Column{Key: d.Key, Header: header(d.Label, d.Unit)})
	}

	hospitals := make([]string, 0)
	visited := make(map[string]bool)
	for _, e := range entries {
		if !visited[e.HospitalID] {
			visited[e.HospitalID] = true
			hospitals = append(hospitals, e.HospitalID)
		}
	}
	sort.Strings(hospitals)

	var extra []Column
	for _, hid := range hospitals {
		vars, err := s.variables.ListVariables(ctx, hid)
		if err != nil {
			return nil, fmt.Errorf("list variables for %s: %w", hid, err)
		}
		for _, v := range vars {
			if !v.Enabled || seen[v.Key] {
				continue
			}
			seen[v.Key] = true
			label := v.Label
			if label == "" {
				label = v.Key
			}
			extra = append(extra, Column{Key: v.Key, Header: header(label, v.Unit)})
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Key < extra[j].Key })
	return append(cols, extra...), nil
}

// WriteCSV writes the export as CSV.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, caller auth.Principal, filter entry.Filter) error {
	t, err := s.Build(ctx, caller, filter)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, cell := range row {
			record[i] = formatCell(cell)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	s.log.WithField("user_id", caller.UserID).WithField("rows", len(t.Rows)).Info("csv export generated")
	return nil
}

// WriteXLSX writes the export as a workbook with a single Entries sheet.
func (s *Service) WriteXLSX(ctx context.Context, w io.Writer, caller auth.Principal, filter entry.Filter) error {
	t, err := s.Build(ctx, caller, filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	header := make([]interface{}, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		copy(values, row)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	s.log.WithField("user_id", caller.UserID).WithField("rows", len(t.Rows)).Info("xlsx export generated")
	return nil
}

// Filename suggests a download name such as entries_2024-01_2024-06.csv.
func Filename(filter entry.Filter, ext string) string {
	name := "entries"
	if filter.HospitalID != "" {
		name += "_" + filter.HospitalID
	}
	if filter.From != "" {
		name += "_" + filter.From
	}
	if filter.To != "" {
		name += "_" + filter.To
	}
	return name + "." + ext
}

func header(label, unit string) string {
	if unit == "" {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, unit)
}

func hospitalName(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

func formatCell(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}
