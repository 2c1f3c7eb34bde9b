package discovery

import (
	"strings"
	"testing"
)

func TestLoadMigrationFiles(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migration files: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("migrations = %d, want the base schema plus the collaborators column", len(files))
	}
	for i, file := range files {
		if len(file.statements) == 0 {
			t.Fatalf("migration %s has no statements", file.name)
		}
		if i > 0 && files[i-1].version >= file.version {
			t.Fatalf("migration order broken: %s before %s", files[i-1].name, file.name)
		}
	}

	base := strings.Join(files[0].statements, "\n")
	for _, table := range []string{"plugin_descriptors", "goal_fragments", "plugin_usage_stats"} {
		if !strings.Contains(base, table) {
			t.Fatalf("base migration missing table %s", table)
		}
	}
	// The collaborators column arrived after the base schema; the store only
	// tolerates duplicate-column errors, so it must not also be in 0001.
	if strings.Contains(base, "collaborates_with") {
		t.Fatal("collaborates_with belongs to a later migration, not the base schema")
	}
	rest := ""
	for _, file := range files[1:] {
		rest += strings.Join(file.statements, "\n")
	}
	if !strings.Contains(rest, "collaborates_with") {
		t.Fatal("no migration adds collaborates_with")
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "single statement with comment header",
			content: "-- header\nCREATE TABLE t (id INT);\n",
			want:    []string{"CREATE TABLE t (id INT)"},
		},
		{
			name:    "multiple statements",
			content: "CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);",
			want:    []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"},
		},
		{
			name:    "comments and blanks only",
			content: "-- nothing here\n\n;\n",
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("statements = %q, want %q", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("statement %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMigrationVersion(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"0001_discovery_index.sql", "0001"},
		{"0002_descriptor_collaborators.sql", "0002"},
		{"0003.sql", "0003"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := migrationVersion(tt.name); got != tt.want {
			t.Fatalf("migrationVersion(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
