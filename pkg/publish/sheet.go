package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"socialscope/pkg/domain"

	"github.com/go-pkgz/lgr"
)

// sheetHeader is the fixed column layout of a profile sheet
var sheetHeader = []string{"date", "network", "photo_1", "photo_2", "video", "short_form", "hashtag", "sound"}

// Row is one sheet line for a profile and day
type Row struct {
	Date      string
	Network   string
	Photo1    string
	Photo2    string
	Video     string
	ShortForm string
	Hashtag   string
	Sound     string
}

// RowFromRecord maps a publication record to a sheet row. The network column
// holds the dominant network among the selected posts; trend winners do not
// vote, they have their own columns. When a category produced more winners
// than it has columns, the extras are joined into the last one.
func RowFromRecord(rec domain.PublicationRecord) Row {
	row := Row{
		Date:    rec.GeneratedAt.Format("2006-01-02"),
		Network: mainNetwork(rec),
	}

	photos := urls(rec.Photos)
	if len(photos) > 0 {
		row.Photo1 = photos[0]
	}
	if len(photos) > 1 {
		row.Photo2 = strings.Join(photos[1:], " ")
	}
	row.Video = strings.Join(urls(rec.Videos), " ")
	row.ShortForm = strings.Join(urls(rec.ShortForm), " ")

	if rec.Hashtag != nil {
		row.Hashtag = rec.Hashtag.TrendName
	}
	if rec.Sound != nil {
		row.Sound = rec.Sound.TrendName
	}
	return row
}

func (r Row) fields() []string {
	return []string{r.Date, r.Network, r.Photo1, r.Photo2, r.Video, r.ShortForm, r.Hashtag, r.Sound}
}

func urls(items []domain.ContentItem) []string {
	res := make([]string, 0, len(items))
	for _, item := range items {
		if item.URL != "" {
			res = append(res, item.URL)
		}
	}
	return res
}

// mainNetwork picks the network appearing most often among the selected
// posts, ties broken alphabetically for stable output. "n/a" when nothing
// but trends was selected.
func mainNetwork(rec domain.PublicationRecord) string {
	counts := map[domain.Network]int{}
	for _, group := range [][]domain.ContentItem{rec.Photos, rec.Videos, rec.ShortForm} {
		for _, item := range group {
			counts[item.Network]++
		}
	}
	if len(counts) == 0 {
		return "n/a"
	}

	networks := make([]domain.Network, 0, len(counts))
	for n := range counts {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool {
		if counts[networks[i]] != counts[networks[j]] {
			return counts[networks[i]] > counts[networks[j]]
		}
		return networks[i] < networks[j]
	})
	return string(networks[0])
}

// CSVWriter appends publication rows to per-profile CSV files under a
// directory. A new file gets the header first. Each Publish call opens and
// closes the file so the sheet stays readable between cycles.
type CSVWriter struct {
	dir string
}

// NewCSVWriter creates a CSV sheet writer rooted at dir
func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{dir: dir}
}

// Publish appends the record's row to the profile's sheet file
func (w *CSVWriter) Publish(_ context.Context, rec domain.PublicationRecord) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("create sheets dir %s: %w", w.dir, err)
	}

	path := filepath.Join(w.dir, sheetFileName(rec.ProfileName))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // path derives from sanitized profile name
	if err != nil {
		return fmt.Errorf("open sheet %s: %w", path, err)
	}
	defer func() {
		if e := f.Close(); e != nil {
			lgr.Printf("[WARN] failed to close sheet %s: %v", path, e)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat sheet %s: %w", path, err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(sheetHeader); err != nil {
			return fmt.Errorf("write sheet header: %w", err)
		}
	}
	if err := cw.Write(RowFromRecord(rec).fields()); err != nil {
		return fmt.Errorf("write sheet row: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush sheet %s: %w", path, err)
	}
	return nil
}

// sheetFileName derives a safe file name from a profile name
func sheetFileName(profile string) string {
	name := strings.ToLower(strings.TrimSpace(profile))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	if name == "" {
		name = "profile"
	}
	return name + ".csv"
}
