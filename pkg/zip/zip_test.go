package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveRoundTripsEntries(t *testing.T) {
	data, err := Archive([]Entry{
		{Name: "01-pasta.png", Data: bytes.Repeat([]byte("a"), 4096)},
		{Name: "02-soup.jpg", Data: []byte("soup")},
		{Name: "02-soup.jpg", Data: []byte("again")},
		{Name: "../../etc/passwd", Data: []byte("x")},
	})
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := []string{"01-pasta.png", "02-soup.jpg", "02-soup-2.jpg", "etc/passwd"}
	if len(zr.File) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Fatalf("entry %d: got %s want %s", i, f.Name, want[i])
		}
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if len(body) != 4096 {
		t.Fatalf("unexpected entry size %d", len(body))
	}
	if zr.File[0].CompressedSize64 >= zr.File[0].UncompressedSize64 {
		t.Fatal("expected compressed entry")
	}
}
