// Package export writes grouping results out: per-group folders and a CSV manifest.
package export

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/photo-grouper/internal/grouping"
	"github.com/kozaktomas/photo-grouper/internal/metadata"
)

// Group is one group of a grouped batch.
type Group struct {
	ID      int       `json:"id"`
	Seed    string    `json:"seed"`
	Size    int       `json:"size"`
	Members []int     `json:"members"`
	Start   time.Time `json:"start,omitzero"`
	End     time.Time `json:"end,omitzero"`
}

// Summarize collects records into groups ordered by group ID. The seed is
// the record whose index equals the group ID. Start and End span the
// parseable timestamps under key.
func Summarize(records []grouping.ImageRecord, key string) []Group {
	byID := make(map[int]*Group)
	for i, rec := range records {
		g, ok := byID[rec.Group]
		if !ok {
			g = &Group{ID: rec.Group}
			if rec.Group >= 0 && rec.Group < len(records) {
				g.Seed = records[rec.Group].ID
			}
			byID[rec.Group] = g
		}
		g.Members = append(g.Members, i)
		g.Size++

		t, err := grouping.ParseTimestamp(rec.Metadata[key])
		if err != nil {
			continue
		}
		if g.Start.IsZero() || t.Before(g.Start) {
			g.Start = t
		}
		if t.After(g.End) {
			g.End = t
		}
	}

	groups := make([]Group, 0, len(byID))
	for _, g := range byID {
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, func(a, b Group) int { return cmp.Compare(a.ID, b.ID) })
	return groups
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// FolderName returns the directory name for a group: the zero-padded ID
// followed by the seed's file name folded to ASCII.
func FolderName(id int, seedName string) string {
	base := strings.TrimSuffix(seedName, filepath.Ext(seedName))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, RemoveDiacritics(base))

	if base == "" {
		return fmt.Sprintf("%04d", id)
	}
	return fmt.Sprintf("%04d_%s", id, base)
}

func imageName(rec grouping.ImageRecord) string {
	if name := rec.Metadata[metadata.KeyImageName]; name != "" {
		return name
	}
	return rec.ID
}

// CopyGroups copies every record's image into outDir/<group folder>/.
// Records need the ImagePath metadata key. Returns the number of files copied.
func CopyGroups(records []grouping.ImageRecord, outDir string) (int, error) {
	copied := 0
	for _, rec := range records {
		src := rec.Metadata[metadata.KeyImagePath]
		if src == "" {
			return copied, fmt.Errorf("record %q has no %s", rec.ID, metadata.KeyImagePath)
		}

		seed := rec
		if rec.Group >= 0 && rec.Group < len(records) {
			seed = records[rec.Group]
		}
		dir := filepath.Join(outDir, FolderName(rec.Group, imageName(seed)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return copied, fmt.Errorf("failed to create group directory: %w", err)
		}

		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", src, err)
		}
		copied++
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// WriteCSV writes a manifest with one row per record in batch order.
func WriteCSV(w io.Writer, records []grouping.ImageRecord, key string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"group", "id", "name", "path", "timestamp"}); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Group),
			rec.ID,
			imageName(rec),
			rec.Metadata[metadata.KeyImagePath],
			rec.Metadata[key],
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write manifest row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
