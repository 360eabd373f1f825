package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ROLLCALL_BACKEND", "sqlite")
	t.Setenv("LOG_LEVEL", "error")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeWorkbook(t *testing.T, dir string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(dir, "asistentes.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func TestImportReportClear(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROLLCALL_SQLITE_PATH", filepath.Join(dir, "rollcall.db"))
	book := writeWorkbook(t, dir, [][]any{
		{"Nombre", "Entidad"},
		{"Ana", "Acme"},
		{"Luis", "Beta"},
		{"ana", "ACME"},
	})

	out, err := run(t, "import", "--dry-run", book)
	if err != nil {
		t.Fatalf("dry run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 rows staged") {
		t.Fatalf("unexpected dry run output:\n%s", out)
	}

	out, err = run(t, "import", book)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 of 3 rows imported") {
		t.Fatalf("unexpected import output:\n%s", out)
	}

	out, err = run(t, "report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "• Ana - Acme") || !strings.Contains(out, "• Luis - Beta") {
		t.Fatalf("report missing participants:\n%s", out)
	}

	out, err = run(t, "share", "--base", "https://example.org/")
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if !strings.HasPrefix(out, "https://example.org/?data=") {
		t.Fatalf("unexpected share output %q", out)
	}

	out, err = run(t, "clear", "--yes")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "2 participants removed") {
		t.Fatalf("unexpected clear output %q", out)
	}

	out, _ = run(t, "report")
	if strings.Contains(out, "Ana") {
		t.Fatalf("roster should be empty after clear:\n%s", out)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROLLCALL_SQLITE_PATH", filepath.Join(dir, "rollcall.db"))
	snapshot := filepath.Join(dir, "lista.json")
	payload := `{"participants":[{"id":5,"name":"Eva","entity":"Delta","attendance":"present"},{"id":5,"name":"Dup","entity":"X"}]}`
	if err := os.WriteFile(snapshot, []byte(payload), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	out, err := run(t, "load", snapshot)
	if err != nil {
		t.Fatalf("load: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 participants loaded, 1 invalid entries dropped") {
		t.Fatalf("unexpected load output %q", out)
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	t.Setenv("ROLLCALL_SQLITE_PATH", filepath.Join(t.TempDir(), "rollcall.db"))
	if _, err := run(t, "clear"); err == nil {
		t.Fatal("expected clear without confirmation to abort")
	}
}

func TestHashKey(t *testing.T) {
	out, err := run(t, "hash-key", "s3cret")
	if err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")); err != nil {
		t.Fatalf("output is not a hash of the key: %v", err)
	}
}

type refusingBackend struct {
	*remote.Memory
}

func (refusingBackend) WriteRecord(context.Context, string, roster.Participant) error {
	return errors.New("connection refused")
}

func TestImportFailsWhenRemoteWritesFail(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROLLCALL_SQLITE_PATH", filepath.Join(dir, "rollcall.db"))
	openDeps = func(_ context.Context, _ config.Config, log *slog.Logger) (app.Deps, error) {
		return app.Deps{Backend: refusingBackend{Memory: remote.NewMemory()}, Logger: log}, nil
	}
	t.Cleanup(func() { openDeps = app.OpenDeps })
	book := writeWorkbook(t, dir, [][]any{
		{"Nombre", "Entidad"},
		{"Ana", "Acme"},
	})

	out, err := run(t, "import", book)
	if !errors.Is(err, remote.ErrRemoteSync) {
		t.Fatalf("import error = %v, want ErrRemoteSync\n%s", err, out)
	}
	if strings.Contains(out, "rows imported") {
		t.Fatalf("import reported success after failed writes:\n%s", out)
	}
}
