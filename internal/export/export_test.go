package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/photo-grouper/internal/grouping"
)

func record(id string, group int, dateTime, path string) grouping.ImageRecord {
	md := map[string]string{"ImageName": id}
	if dateTime != "" {
		md["DateTime"] = dateTime
	}
	if path != "" {
		md["ImagePath"] = path
	}
	return grouping.ImageRecord{ID: id, Metadata: md, Group: group}
}

func TestSummarize(t *testing.T) {
	records := []grouping.ImageRecord{
		record("a.jpg", 0, "2024:06:15 10:00:00", ""),
		record("b.jpg", 1, "2024:06:15 11:00:00", ""),
		record("c.jpg", 0, "2024:06:15 10:05:00", ""),
		record("d.jpg", 0, "broken", ""),
	}

	groups := Summarize(records, "DateTime")

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	g := groups[0]
	if g.ID != 0 || g.Seed != "a.jpg" || g.Size != 3 {
		t.Errorf("unexpected first group %+v", g)
	}
	if len(g.Members) != 3 || g.Members[0] != 0 || g.Members[1] != 2 || g.Members[2] != 3 {
		t.Errorf("unexpected members %v", g.Members)
	}
	if !g.Start.Equal(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)) ||
		!g.End.Equal(time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)) {
		t.Errorf("unexpected span %s - %s", g.Start, g.End)
	}
	if groups[1].ID != 1 || groups[1].Seed != "b.jpg" || groups[1].Size != 1 {
		t.Errorf("unexpected second group %+v", groups[1])
	}

	if len(Summarize(nil, "DateTime")) != 0 {
		t.Error("expected no groups for an empty batch")
	}
}

func TestFolderName(t *testing.T) {
	tests := []struct {
		id       int
		seed     string
		expected string
	}{
		{0, "IMG_0001.jpg", "0000_IMG_0001"},
		{12, "Výlet na Sněžku.JPG", "0012_Vylet_na_Snezku"},
		{3, "a/b.jpg", "0003_a_b"},
		{7, "", "0007"},
	}

	for _, tc := range tests {
		if got := FolderName(tc.id, tc.seed); got != tc.expected {
			t.Errorf("FolderName(%d, %q) = %q; want %q", tc.id, tc.seed, got, tc.expected)
		}
	}
}

func TestRemoveDiacritics(t *testing.T) {
	if got := RemoveDiacritics("Jiří Žák"); got != "Jiri Zak" {
		t.Errorf("RemoveDiacritics() = %q; want %q", got, "Jiri Zak")
	}
}

func TestCopyGroups(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	records := []grouping.ImageRecord{
		record("a.jpg", 0, "", filepath.Join(src, "a.jpg")),
		record("b.jpg", 0, "", filepath.Join(src, "b.jpg")),
		record("c.jpg", 2, "", filepath.Join(src, "c.jpg")),
	}

	copied, err := CopyGroups(records, out)
	if err != nil {
		t.Fatalf("CopyGroups failed: %v", err)
	}
	if copied != 3 {
		t.Errorf("expected 3 files copied, got %d", copied)
	}

	for _, p := range []string{"0000_a/a.jpg", "0000_a/b.jpg", "0002_c/c.jpg"} {
		data, err := os.ReadFile(filepath.Join(out, p))
		if err != nil {
			t.Errorf("expected %s: %v", p, err)
			continue
		}
		if string(data) != filepath.Base(p) {
			t.Errorf("unexpected content in %s: %q", p, data)
		}
	}
}

func TestCopyGroups_MissingPath(t *testing.T) {
	_, err := CopyGroups([]grouping.ImageRecord{record("a.jpg", 0, "", "")}, t.TempDir())
	if err == nil {
		t.Error("expected error for record without ImagePath")
	}
}

func TestWriteCSV(t *testing.T) {
	records := []grouping.ImageRecord{
		record("a.jpg", 0, "2024:06:15 10:00:00", "/photos/a.jpg"),
		record("b, the second.jpg", 1, "2024:06:15 11:00:00", "/photos/b, the second.jpg"),
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, "DateTime"); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("manifest is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "group" || rows[0][4] != "timestamp" {
		t.Errorf("unexpected header %v", rows[0])
	}
	want := []string{"1", "b, the second.jpg", "b, the second.jpg", "/photos/b, the second.jpg", "2024:06:15 11:00:00"}
	for i, v := range want {
		if rows[2][i] != v {
			t.Errorf("column %d: got %q, want %q", i, rows[2][i], v)
		}
	}
}
