package viofs

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/viofs/viofs/internal/engine"
)

type scenariosFile struct {
	Scenarios []struct {
		Name     string `yaml:"name"`
		PageSize int    `yaml:"page_size"`
		Steps    []struct {
			Op          string `yaml:"op"`
			Path        string `yaml:"path"`
			Mode        string `yaml:"mode"`
			Access      string `yaml:"access"`
			DataHex     string `yaml:"data_hex"`
			ExpectHex   string `yaml:"expect_hex"`
			Name        string `yaml:"name"`
			ValueHex    string `yaml:"value_hex"`
			Recursive   bool   `yaml:"recursive"`
			ExpectError bool   `yaml:"expect_error"`
			SeekTo      int64  `yaml:"seek_to"`
			Length      int64  `yaml:"length"`
		} `yaml:"steps"`
	} `yaml:"scenarios"`
}

func parseMode(s string) Mode {
	switch s {
	case "create_new":
		return ModeCreateNew
	case "create":
		return ModeCreate
	case "open":
		return ModeOpen
	case "open_or_create":
		return ModeOpenOrCreate
	case "truncate":
		return ModeTruncate
	case "append":
		return ModeAppend
	default:
		return ModeOpenOrCreate
	}
}

func parseAccess(s string) Access {
	switch s {
	case "read":
		return AccessRead
	case "write":
		return AccessWrite
	case "readwrite":
		return AccessReadWrite
	default:
		return AccessReadWrite
	}
}

// TestScenariosYAML drives declarative mount/write/read/reopen scenarios
// from testdata/scenarios.yml against an in-memory container, reopening
// a fresh VFS whenever a step says "remount" to exercise full metadata
// persistence round-trips.
func TestScenariosYAML(t *testing.T) {
	candidates := []string{
		filepath.Join("testdata", "scenarios.yml"),
		filepath.Join("..", "testdata", "scenarios.yml"),
	}
	var b []byte
	for _, p := range candidates {
		if bb, err := os.ReadFile(p); err == nil {
			b = bb
			break
		}
	}
	if b == nil {
		t.Fatalf("failed to find testdata/scenarios.yml (tried: %v)", candidates)
	}
	var file scenariosFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		t.Fatalf("parse scenarios.yml: %v", err)
	}

	for _, sc := range file.Scenarios {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			container := engine.NewMemoryContainer()
			fs, err := Mount(container, Options{PageSize: sc.PageSize})
			if err != nil {
				t.Fatalf("mount: %v", err)
			}
			defer fs.Dispose()

			for i, step := range sc.Steps {
				label := fmt.Sprintf("step %d (%s)", i, step.Op)
				switch step.Op {
				case "create_file":
					if err := fs.CreateFile(step.Path, 0); err != nil {
						t.Fatalf("%s: create_file %s: %v", label, step.Path, err)
					}
				case "create_directory":
					if err := fs.CreateDirectory(step.Path); err != nil {
						t.Fatalf("%s: create_directory %s: %v", label, step.Path, err)
					}
				case "delete_file":
					if err := fs.DeleteFile(step.Path); err != nil {
						t.Fatalf("%s: delete_file %s: %v", label, step.Path, err)
					}
				case "delete_directory":
					err := fs.DeleteDirectory(step.Path, step.Recursive)
					if step.ExpectError {
						if err == nil {
							t.Fatalf("%s: delete_directory %s expected an error, got none", label, step.Path)
						}
						continue
					}
					if err != nil {
						t.Fatalf("%s: delete_directory %s: %v", label, step.Path, err)
					}
				case "write":
					data, decErr := hex.DecodeString(step.DataHex)
					if decErr != nil {
						t.Fatalf("%s: bad data_hex: %v", label, decErr)
					}
					s, err := fs.OpenFile(step.Path, parseMode(step.Mode), parseAccess(step.Access))
					if err != nil {
						t.Fatalf("%s: open %s: %v", label, step.Path, err)
					}
					if _, err := s.Write(data); err != nil {
						t.Fatalf("%s: write: %v", label, err)
					}
					if err := s.Dispose(); err != nil {
						t.Fatalf("%s: dispose stream: %v", label, err)
					}
				case "seek_write":
					data, decErr := hex.DecodeString(step.DataHex)
					if decErr != nil {
						t.Fatalf("%s: bad data_hex: %v", label, decErr)
					}
					s, err := fs.OpenFile(step.Path, parseMode(step.Mode), parseAccess(step.Access))
					if err != nil {
						t.Fatalf("%s: open %s: %v", label, step.Path, err)
					}
					if _, err := s.Seek(step.SeekTo, 0); err != nil {
						t.Fatalf("%s: seek: %v", label, err)
					}
					if _, err := s.Write(data); err != nil {
						t.Fatalf("%s: write: %v", label, err)
					}
					if err := s.Dispose(); err != nil {
						t.Fatalf("%s: dispose stream: %v", label, err)
					}
				case "read":
					s, err := fs.OpenFile(step.Path, parseMode(step.Mode), parseAccess(step.Access))
					if err != nil {
						t.Fatalf("%s: open %s: %v", label, step.Path, err)
					}
					want, decErr := hex.DecodeString(step.ExpectHex)
					if decErr != nil {
						t.Fatalf("%s: bad expect_hex: %v", label, decErr)
					}
					got := make([]byte, len(want)+8)
					n, err := s.Read(got)
					if err != nil {
						t.Fatalf("%s: read: %v", label, err)
					}
					if hex.EncodeToString(got[:n]) != hex.EncodeToString(want) {
						t.Fatalf("%s: read %x, want %x", label, got[:n], want)
					}
					if err := s.Dispose(); err != nil {
						t.Fatalf("%s: dispose stream: %v", label, err)
					}
				case "remount":
					if err := fs.Dispose(); err != nil {
						t.Fatalf("%s: dispose before remount: %v", label, err)
					}
					fs, err = Mount(container, Options{})
					if err != nil {
						t.Fatalf("%s: remount: %v", label, err)
					}
				case "set_attribute":
					value, decErr := hex.DecodeString(step.ValueHex)
					if decErr != nil {
						t.Fatalf("%s: bad value_hex: %v", label, decErr)
					}
					if err := fs.SetAttribute(step.Path, step.Name, value); err != nil {
						t.Fatalf("%s: set_attribute: %v", label, err)
					}
				case "remove_attribute":
					if _, err := fs.RemoveAttribute(step.Path, step.Name); err != nil {
						t.Fatalf("%s: remove_attribute: %v", label, err)
					}
				case "expect_attribute":
					want, decErr := hex.DecodeString(step.ExpectHex)
					if decErr != nil {
						t.Fatalf("%s: bad expect_hex: %v", label, decErr)
					}
					got, ok, err := fs.TryGetAttribute(step.Path, step.Name)
					if err != nil {
						t.Fatalf("%s: try_get_attribute: %v", label, err)
					}
					if !ok {
						t.Fatalf("%s: attribute %s missing on %s", label, step.Name, step.Path)
					}
					if hex.EncodeToString(got) != hex.EncodeToString(want) {
						t.Fatalf("%s: attribute %x, want %x", label, got, want)
					}
				case "expect_attribute_absent":
					if _, ok, err := fs.TryGetAttribute(step.Path, step.Name); err == nil && ok {
						t.Fatalf("%s: expected attribute %s to be absent on %s", label, step.Name, step.Path)
					}
				case "expect_file_exists":
					if !fs.FileExists(step.Path) {
						t.Fatalf("%s: expected %s to exist", label, step.Path)
					}
				case "expect_file_not_exists":
					if fs.FileExists(step.Path) {
						t.Fatalf("%s: expected %s to not exist", label, step.Path)
					}
				case "expect_directory_exists":
					if !fs.DirectoryExists(step.Path) {
						t.Fatalf("%s: expected directory %s to exist", label, step.Path)
					}
				case "expect_directory_not_exists":
					if fs.DirectoryExists(step.Path) {
						t.Fatalf("%s: expected directory %s to not exist", label, step.Path)
					}
				case "expect_length":
					s, err := fs.OpenFile(step.Path, ModeOpen, AccessRead)
					if err != nil {
						t.Fatalf("%s: open %s: %v", label, step.Path, err)
					}
					length, _ := s.Length()
					if length != step.Length {
						t.Fatalf("%s: length = %d, want %d", label, length, step.Length)
					}
					s.Dispose()
				default:
					t.Fatalf("%s: unknown op %q", label, step.Op)
				}
			}
		})
	}
}
