// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorFormatting(t *testing.T) {
	err := StallError("Shaft Piston 1", 6).SetStage("Descending")
	got := err.Error()
	if got != "[STALL@Descending] Shaft Piston 1: stuck for 6 ticks, recovery exhausted" {
		t.Errorf("unexpected message: %s", got)
	}

	wrapped := ParseError("rotors_dps", "fast", "float", stderrors.New("invalid syntax"))
	if !strings.Contains(wrapped.Error(), `cannot parse "fast" as float: invalid syntax`) {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
}

func TestIsFollowsWrapping(t *testing.T) {
	inner := ParseError("stagger", "x", "int", nil)
	outer := Wrap(inner, ErrConfiguration, "invalid settings")
	chained := fmt.Errorf("start: %w", outer)

	if !Is(chained, ErrConfiguration) {
		t.Error("expected CONFIGURATION in chain")
	}
	if !Is(chained, ErrParse) {
		t.Error("expected PARSE in chain")
	}
	if Is(chained, ErrStall) {
		t.Error("did not expect STALL in chain")
	}
	if CodeOf(chained) != ErrConfiguration {
		t.Errorf("expected outermost code, got %s", CodeOf(chained))
	}
	if !IsConfig(inner) {
		t.Error("parse errors count as config errors")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{BoundaryError("Shaft", 3, 0, 2), false},
		{VanishedHandleError("Rotor"), true},
		{StallError("Rotor", 6), true},
		{stderrors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFromPanic(t *testing.T) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = FromPanic(r)
			}
		}()
		var m map[string]int
		m["x"] = 1
	}()
	if !Is(err, ErrRuntime) {
		t.Fatalf("expected runtime error, got %v", err)
	}

	if got := FromPanic("boom").Error(); got != "[RUNTIME] panic: boom" {
		t.Errorf("unexpected message: %s", got)
	}
}
