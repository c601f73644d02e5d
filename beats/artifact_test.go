package beats

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewArtifact(t *testing.T) {
	a, err := NewArtifact([]float64{0.5, 1.0, 1.6, 2.3, 3.0}, false)
	if err != nil {
		t.Fatalf("NewArtifact: %v", err)
	}
	if a.FirstBeat != 0.5 {
		t.Errorf("FirstBeat = %v, want 0.5", a.FirstBeat)
	}
	if !almostEqual(a.Gaps, []float64{0.6, 0.7, 0.7}, 1e-9) {
		t.Errorf("Gaps = %v, want [0.6 0.7 0.7]", a.Gaps)
	}
	if d := a.Length(); d < 2499*time.Millisecond || d > 2501*time.Millisecond {
		t.Errorf("Length = %v, want 2.5s", d)
	}

	a, err = NewArtifact([]float64{0.5, 1.0, 1.6}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(a.Gaps, []float64{0.5, 0.6}, 1e-9) {
		t.Errorf("Gaps with leading gap = %v, want [0.5 0.6]", a.Gaps)
	}
}

func TestNewArtifactErrors(t *testing.T) {
	if _, err := NewArtifact(nil, false); !errors.Is(err, ErrNoBeats) {
		t.Errorf("NewArtifact(nil) error = %v, want ErrNoBeats", err)
	}
	if _, err := NewArtifact([]float64{1, 0.5, 2}, false); !errors.Is(err, ErrUnordered) {
		t.Errorf("NewArtifact(unordered) error = %v, want ErrUnordered", err)
	}
}

func TestArtifactSingleBeat(t *testing.T) {
	a, err := NewArtifact([]float64{1.25}, false)
	if err != nil {
		t.Fatal(err)
	}

	text, err := a.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "1.25\n[]\n" {
		t.Errorf("MarshalText = %q, want %q", text, "1.25\n[]\n")
	}
}

func TestArtifactMarshalText(t *testing.T) {
	tests := []struct {
		artifact Artifact
		want     string
	}{
		{Artifact{0.5, []float64{0.6, 0.7, 0.7}}, "0.5\n[0.6, 0.7, 0.7]\n"},
		{Artifact{2, []float64{}}, "2.0\n[]\n"},
		{Artifact{0, nil}, "0.0\n[]\n"},
		{Artifact{0.0232, []float64{0.000012, 1}}, "0.0232\n[1.2e-05, 1.0]\n"},
		{Artifact{0.5, []float64{0.6000000000000001}}, "0.5\n[0.6000000000000001]\n"},
	}

	for _, test := range tests {
		got, err := test.artifact.MarshalText()
		if err != nil {
			t.Errorf("MarshalText(%v): %v", test.artifact, err)
			continue
		}
		if string(got) != test.want {
			t.Errorf("MarshalText(%v) = %q, want %q", test.artifact, got, test.want)
		}
	}
}

func TestParseArtifact(t *testing.T) {
	a, err := ParseArtifact(strings.NewReader("0.5\n[0.6, 0.7,0.7 ]\n"))
	if err != nil {
		t.Fatalf("ParseArtifact: %v", err)
	}
	if a.FirstBeat != 0.5 {
		t.Errorf("FirstBeat = %v, want 0.5", a.FirstBeat)
	}
	if !almostEqual(a.Gaps, []float64{0.6, 0.7, 0.7}, 0) {
		t.Errorf("Gaps = %v", a.Gaps)
	}

	a, err = ParseArtifact(strings.NewReader("3.0\n[]"))
	if err != nil {
		t.Fatalf("ParseArtifact(empty gaps): %v", err)
	}
	if a.Gaps == nil || len(a.Gaps) != 0 {
		t.Errorf("Gaps = %#v, want empty slice", a.Gaps)
	}
}

func TestParseArtifactInvalid(t *testing.T) {
	inputs := []string{
		"",
		"0.5\n",
		"abc\n[0.5]\n",
		"0.5\n0.6, 0.7\n",
		"0.5\n[0.6, x]\n",
		"0.5\n[0.6, -0.1]\n",
		"0.5\n[0.6]\n[0.7]\n",
	}

	for _, input := range inputs {
		if _, err := ParseArtifact(strings.NewReader(input)); err == nil {
			t.Errorf("ParseArtifact(%q) succeeded, want error", input)
		}
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	beats := []float64{0.348, 0.836, 1.324, 1.834, 2.322, 2.810, 3.298}

	a, err := NewArtifact(beats, false)
	if err != nil {
		t.Fatal(err)
	}

	text, err := a.MarshalText()
	if err != nil {
		t.Fatal(err)
	}

	var b Artifact
	if err := b.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b.FirstBeat != a.FirstBeat || !almostEqual(b.Gaps, a.Gaps, 0) {
		t.Errorf("round trip = %+v, want %+v", b, a)
	}
}

func TestWriteArtifactFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beats.txt")

	if err := os.WriteFile(path, []byte("stale contents that are much longer\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	a := &Artifact{FirstBeat: 0.5, Gaps: []float64{0.6, 0.7}}
	if err := WriteArtifactFile(path, a); err != nil {
		t.Fatalf("WriteArtifactFile: %v", err)
	}

	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "0.5\n[0.6, 0.7]\n" {
		t.Errorf("artifact = %q", first)
	}

	if err := WriteArtifactFile(path, a); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("second write = %q, want identical %q", second, first)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the artifact", len(entries))
	}

	read, err := ReadArtifactFile(path)
	if err != nil {
		t.Fatalf("ReadArtifactFile: %v", err)
	}
	if read.FirstBeat != 0.5 || !almostEqual(read.Gaps, a.Gaps, 0) {
		t.Errorf("ReadArtifactFile = %+v", read)
	}
}

func TestReadArtifactFileMissing(t *testing.T) {
	if _, err := ReadArtifactFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}
