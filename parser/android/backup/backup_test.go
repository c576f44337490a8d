package backup

import (
	"bytes"
	"compress/zlib"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture(t *testing.T, tarBytes []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString("1\n1\nnone\n")
	zw := zlib.NewWriter(&buf)
	zw.Write(tarBytes)
	zw.Close()
	return buf.Bytes()
}

func TestAndroidBackupWellFormed(t *testing.T) {
	data := buildFixture(t, []byte("fake tar payload padded to a reasonable size for the test"))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("Length = %d, want %d", res.Length, len(data))
	}
}

func TestAndroidBackupBadMagic(t *testing.T) {
	data := []byte("NOT A BACKUP\n1\n1\nnone\n")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}

func TestAndroidBackupEncrypted(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString("1\n1\nAES-256\n")
	data := buf.Bytes()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on encrypted backup")
	}
}
