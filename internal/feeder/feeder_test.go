package feeder

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	csvContent := `user_id,email, name
1,alice@example.com,Alice
2,bob@example.com,Bob
3,charlie@example.com,Charlie`

	records, err := ReadCSV(strings.NewReader(csvContent))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0]["user_id"] != "1" || records[0]["email"] != "alice@example.com" || records[0]["name"] != "Alice" {
		t.Errorf("first record = %v, want Alice's data", records[0])
	}
	if records[2]["name"] != "Charlie" {
		t.Errorf("third record = %v, want Charlie's data", records[2])
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "header only", content: "user_id,email\n"},
		{name: "ragged row", content: "user_id,email\n1\n"},
		{name: "blank column", content: "user_id,\n1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.content)); err == nil {
				t.Fatal("ReadCSV() error = nil, want error")
			}
		})
	}
	if _, err := ReadCSV(strings.NewReader("a,b\n")); !errors.Is(err, ErrEmpty) {
		t.Errorf("ReadCSV(header only) error = %v, want ErrEmpty", err)
	}
}

func TestReadJSON(t *testing.T) {
	jsonContent := `[
  {"user_id": 1, "email": "alice@example.com", "vip": true, "id": 12345678901},
  {"user_id": 2, "email": "bob@example.com", "vip": false, "id": null}
]`
	records, err := ReadJSON(strings.NewReader(jsonContent))
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	first := records[0]
	if first["user_id"] != "1" || first["vip"] != "true" || first["id"] != "12345678901" {
		t.Errorf("first record = %v", first)
	}
	if records[1]["id"] != "" {
		t.Errorf("null field = %q, want empty", records[1]["id"])
	}
}

func TestReadJSONErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not an array", content: `{"user_id": 1}`},
		{name: "empty array", content: `[]`},
		{name: "empty object", content: `[{}]`},
		{name: "nested value", content: `[{"user": {"id": 1}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadJSON(strings.NewReader(tt.content)); err == nil {
				t.Fatal("ReadJSON() error = nil, want error")
			}
		})
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "users.CSV")
	jsonPath := filepath.Join(dir, "users.json")
	txtPath := filepath.Join(dir, "users.txt")
	for path, content := range map[string]string{
		csvPath:  "user_id\n1\n2\n",
		jsonPath: `[{"user_id": "7"}]`,
		txtPath:  "user_id\n1\n",
	} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	records, err := Load(csvPath)
	if err != nil || len(records) != 2 {
		t.Errorf("Load(csv) = %v, %v", records, err)
	}
	records, err = Load(jsonPath)
	if err != nil || len(records) != 1 || records[0]["user_id"] != "7" {
		t.Errorf("Load(json) = %v, %v", records, err)
	}
	if _, err := Load(txtPath); err == nil {
		t.Error("Load(txt) error = nil, want unsupported format")
	}
	if _, err := Load(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}

func TestColumns(t *testing.T) {
	got := Columns([]Record{{"b": "1", "a": "2"}, {"c": "3", "a": "4"}})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Columns() = %v, want [a b c]", got)
	}
}
