// Package importer loads glucose-monitor CSV exports into the store.
//
// One file holds one user's export; the file name without ".csv" is the
// user_id. Layout:
//
//	row 1   export metadata; column 3 is the export time ("02-01-2006 15:04 UTC"),
//	        column 5 the exporting user
//	(blank) optional
//	row 2/3 header row with the German display names of the reading fields
//	rest    one reading per row
//
// Every row goes through the same batch intake as POST /levels, so importing
// a file twice updates readings in place instead of duplicating them.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sakif/glucose-api/internal/service"
)

const (
	exportTimeLayout = "02-01-2006 15:04 UTC"
	deviceTimeLayout = "02-01-2006 15:04"
)

// columns maps the export's column titles to field names.
var columns = []struct{ title, field string }{
	{"Gerät", "device"},
	{"Seriennummer", "serial_number"},
	{"Gerätezeitstempel", "device_timestamp"},
	{"Aufzeichnungstyp", "recording_type"},
	{"Glukosewert-Verlauf mg/dL", "glucose_value_trend"},
	{"Glukose-Scan mg/dL", "glucose_scan"},
	{"Nicht numerisches schnellwirkendes Insulin", "non_numerical_rapid_acting_insulin"},
	{"Schnellwirkendes Insulin (Einheiten)", "rapid_acting_insulin"},
	{"Nicht numerische Nahrungsdaten", "non_numerical_nutritional_data"},
	{"Kohlenhydrate (Gramm)", "carbohydrates_grams"},
	{"Kohlenhydrate (Portionen)", "carbohydrates_portions"},
	{"Nicht numerisches Depotinsulin", "non_numerical_depot_insulin"},
	{"Depotinsulin (Einheiten)", "depot_insulin"},
	{"Notizen", "notes"},
	{"Glukose-Teststreifen mg/dL", "glucose_test_strips"},
	{"Keton mmol/L", "ketone"},
	{"Mahlzeiteninsulin (Einheiten)", "mealtime_insulin"},
	{"Korrekturinsulin (Einheiten)", "correction_insulin"},
	{"Insulin-Änderung durch Anwender (Einheiten)", "insulin_change_by_user"},
}

var headerFields = make(map[string]string, len(columns))

func init() {
	for _, c := range columns {
		headerFields[c.title] = c.field
	}
}

var (
	ErrNoMetadata = errors.New("importer: missing metadata row")
	ErrNoHeader   = errors.New("importer: missing header row")
)

// Batcher stores a batch of raw readings; service.LevelService implements it.
type Batcher interface {
	CreateBatch(ctx context.Context, raw []map[string]any) (*service.BatchResult, error)
}

// Importer reads export files and hands their rows to a Batcher.
type Importer struct {
	batcher Batcher
	logger  *slog.Logger
}

func New(batcher Batcher, logger *slog.Logger) *Importer {
	return &Importer{batcher: batcher, logger: logger}
}

// Summary counts what ImportDir stored.
type Summary struct {
	Files    int
	Readings int
}

// ImportDir imports every *.csv file in dir, in name order. It stops at the
// first failing file; files before it stay imported.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Summary, error) {
	var sum Summary

	entries, err := os.ReadDir(dir)
	if err != nil {
		return sum, fmt.Errorf("importer: reading %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)

	for _, name := range files {
		n, err := im.ImportFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return sum, err
		}
		sum.Files++
		sum.Readings += n
	}
	return sum, nil
}

// ImportFile imports one export file and returns the number of readings
// stored.
func (im *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("importer: %w", err)
	}
	defer f.Close()

	userID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	items, err := parse(f, userID)
	if err != nil {
		return 0, fmt.Errorf("importer: %s: %w", path, err)
	}
	if len(items) == 0 {
		im.logger.Warn("export has no readings", slog.String("file", path))
		return 0, nil
	}

	result, err := im.batcher.CreateBatch(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("importer: %s: %w", path, err)
	}

	im.logger.Info("export imported",
		slog.String("file", path),
		slog.String("user_id", userID),
		slog.Int("readings", len(result.Readings)),
	)
	return len(result.Readings), nil
}

// parse turns one export into raw reading maps.
func parse(r io.Reader, userID string) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	meta, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoMetadata
	}
	if err != nil {
		return nil, err
	}
	if len(meta) < 5 {
		return nil, fmt.Errorf("%w: want at least 5 columns, got %d", ErrNoMetadata, len(meta))
	}
	exportedAt, err := time.Parse(exportTimeLayout, strings.TrimSpace(meta[2]))
	if err != nil {
		return nil, fmt.Errorf("metadata row: export time: %w", err)
	}
	createdAt := exportedAt.Format(time.RFC3339)
	createdBy := strings.TrimSpace(meta[4])

	header, err := cr.Read()
	if err == nil && blank(header) {
		header, err = cr.Read()
	}
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}

	fields := make([]string, len(header))
	for i, title := range header {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		name, ok := headerFields[title]
		if !ok {
			return nil, fmt.Errorf("header row: unknown column %q", title)
		}
		fields[i] = name
	}

	var items []map[string]any
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if blank(row) {
			continue
		}

		item := map[string]any{
			"user_id":    userID,
			"created_at": createdAt,
			"created_by": createdBy,
		}
		for i, cell := range row {
			if i >= len(fields) || fields[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if fields[i] == "device_timestamp" {
				cell = deviceTimestamp(cell)
			}
			item[fields[i]] = cell
		}
		items = append(items, item)
	}
	return items, nil
}

// deviceTimestamp rewrites the export's day-first timestamps as ISO-8601.
// Anything else is passed through for normalization to judge.
func deviceTimestamp(cell string) string {
	t, err := time.Parse(deviceTimeLayout, cell)
	if err != nil {
		return cell
	}
	return t.Format("2006-01-02T15:04:05")
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
