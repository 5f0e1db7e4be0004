package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

var migrationNamePattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	directions := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if directions[version] == nil {
			directions[version] = map[string]bool{}
		}
		if directions[version][direction] {
			t.Fatalf("duplicate %s migration for version %s", direction, version)
		}
		directions[version][direction] = true
	}

	if len(directions) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, have := range directions {
		if !have["up"] || !have["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}
