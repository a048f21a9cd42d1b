// Package testsupport holds the fixtures, clocks and sleepers shared by the
// package tests.
package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// FixturePath joins filename onto the calling package's testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// ReadFixture returns the contents of testdata/<name> and fails the test if
// it cannot be read.
func ReadFixture(t testing.TB, name string) []byte {
	t.Helper()

	path := FixturePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", path, err)
	}
	return data
}

// DecodeFixture decodes testdata/<name> into a T. Names ending in .yaml or
// .yml are decoded as YAML, anything else as JSON.
func DecodeFixture[T any](t testing.TB, name string) T {
	t.Helper()

	var out T
	data := ReadFixture(t, name)

	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		t.Fatalf("failed to decode fixture %s: %v", name, err)
	}
	return out
}
