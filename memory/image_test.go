package memory

import (
	"bytes"
	"testing"
	"time"
)

func TestImageWriteRead(t *testing.T) {
	var im Image
	im.Write(0, []byte("HELLO"))
	im.Write(5, []byte("WORLD"))

	got, ok := im.Read(0, 10)
	if !ok || string(got) != "HELLOWORLD" {
		t.Fatalf("Read across touching extents = %q, %v", got, ok)
	}
	got, ok = im.Read(3, 4)
	if !ok || string(got) != "LOWO" {
		t.Errorf("Read(3,4) = %q, %v", got, ok)
	}
	if _, ok := im.Read(8, 3); ok {
		t.Error("read past the last byte should fail")
	}
	if im.Size() != 10 {
		t.Errorf("Size = %d", im.Size())
	}
}

func TestImageGapFailsRead(t *testing.T) {
	var im Image
	im.Write(0, []byte("AB"))
	im.Write(3, []byte("CD"))

	if _, ok := im.Read(0, 5); ok {
		t.Error("read spanning a gap should fail")
	}
	if _, ok := im.Read(2, 1); ok {
		t.Error("read of an absent byte should fail")
	}
	if b, ok := im.ByteAt(3); !ok || b != 'C' {
		t.Errorf("ByteAt(3) = %q, %v", b, ok)
	}
	if _, ok := im.ByteAt(2); ok {
		t.Error("ByteAt in gap should fail")
	}
}

func TestImageLaterWritesWin(t *testing.T) {
	tests := []struct {
		name   string
		writes []struct {
			addr uint64
			data string
		}
		want string
	}{
		{
			name: "inner overwrite",
			writes: []struct {
				addr uint64
				data string
			}{{0, "AAAAAAAA"}, {2, "BB"}},
			want: "AABBAAAA",
		},
		{
			name: "overlap left",
			writes: []struct {
				addr uint64
				data string
			}{{2, "AAAA"}, {0, "BBBB"}},
			want: "BBBBAA",
		},
		{
			name: "cover several",
			writes: []struct {
				addr uint64
				data string
			}{{0, "AA"}, {2, "CC"}, {4, "DD"}, {1, "XXXX"}},
			want: "AXXXXD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var im Image
			for _, w := range tt.writes {
				im.Write(w.addr, []byte(w.data))
			}
			got, ok := im.Read(0, len(tt.want))
			if !ok || string(got) != tt.want {
				t.Errorf("got %q, %v; want %q", got, ok, tt.want)
			}
			if im.Size() != len(tt.want) {
				t.Errorf("Size = %d, want %d", im.Size(), len(tt.want))
			}
		})
	}
}

func TestImageCString(t *testing.T) {
	var im Image
	im.Write(100, []byte("API_"))
	im.Write(104, []byte("TOKEN\x00rest"))
	im.Write(200, []byte("NOTERMINATOR"))

	got, ok := im.CString(100, 64)
	if !ok || !bytes.Equal(got, []byte("API_TOKEN")) {
		t.Errorf("CString = %q, %v", got, ok)
	}
	if _, ok := im.CString(100, 8); ok {
		t.Error("string longer than max should fail")
	}
	if got, ok := im.CString(100, 9); !ok || string(got) != "API_TOKEN" {
		t.Errorf("string of exactly max bytes = %q, %v", got, ok)
	}
	if _, ok := im.CString(200, 64); ok {
		t.Error("string running into a gap should fail")
	}
	if _, ok := im.CString(50, 64); ok {
		t.Error("absent start should fail")
	}
}

func TestImageWrapIgnored(t *testing.T) {
	var im Image
	if im.Write(^uint64(0)-1, []byte("ABCD")) {
		t.Error("wrapping write should be rejected")
	}
	if im.Size() != 0 {
		t.Errorf("Size = %d", im.Size())
	}
}

func TestImageRanges(t *testing.T) {
	var im Image
	im.Write(10, []byte("ab"))
	im.Write(12, []byte("cd"))
	im.Write(20, []byte("x"))
	r := im.Ranges()
	if len(r) != 2 || r[0] != (Range{10, 14}) || r[1] != (Range{20, 21}) {
		t.Errorf("Ranges = %v", r)
	}
}

func TestImageWriteAfterRead(t *testing.T) {
	var im Image
	im.Write(0, []byte("AAAAAAAA"))
	if got, ok := im.Read(0, 8); !ok || string(got) != "AAAAAAAA" {
		t.Fatalf("first read = %q, %v", got, ok)
	}
	im.Write(3, []byte("BB"))
	im.Write(8, []byte("CC"))
	if got, ok := im.Read(0, 10); !ok || string(got) != "AAABBAAACC" {
		t.Errorf("second read = %q, %v", got, ok)
	}
	if r := im.Ranges(); len(r) != 1 || r[0] != (Range{0, 10}) {
		t.Errorf("Ranges = %v", r)
	}
}

func TestImageManyWrites(t *testing.T) {
	const n = 60000
	var im Image
	start := time.Now()
	// descending one-byte writes, then two-byte writes overlapping every
	// even address
	for i := n - 1; i >= 0; i-- {
		im.Write(uint64(i), []byte{'a'})
	}
	for i := 0; i < n; i += 2 {
		im.Write(uint64(i), []byte{'b', 'c'})
	}
	if im.Size() != n {
		t.Fatalf("Size = %d, want %d", im.Size(), n)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("%d writes took %v", 2*n, d)
	}

	got, ok := im.Read(0, n)
	if !ok {
		t.Fatal("Read failed")
	}
	for i, c := range got {
		want := byte('b')
		if i%2 == 1 {
			want = 'c'
		}
		if c != want {
			t.Fatalf("byte %d = %q, want %q", i, c, want)
		}
	}
	if r := im.Ranges(); len(r) != 1 || r[0] != (Range{0, n}) {
		t.Errorf("Ranges = %v", r)
	}
}
