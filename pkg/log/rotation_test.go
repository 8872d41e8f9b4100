// Log rotation tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingFileWriterRequiresName(t *testing.T) {
	if _, err := NewRotatingFileWriter(RotationConfig{}); err == nil {
		t.Fatal("expected error for empty filename")
	}
}

func TestRotatingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "logs", "rig.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: name, MaxBytes: 32, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer w.Close()

	line := strings.Repeat("x", 20) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	for _, p := range []string{name, name + ".1", name + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(name + ".3"); err == nil {
		t.Errorf("expected at most 2 backups")
	}

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != line {
		t.Errorf("expected active file to hold one line, got %q", data)
	}
}

func TestRotatingFileWriterClosed(t *testing.T) {
	w, err := NewRotatingFileWriter(RotationConfig{Filename: filepath.Join(t.TempDir(), "a.log")})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected write after close to fail")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
