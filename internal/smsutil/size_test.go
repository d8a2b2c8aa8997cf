package smsutil

import (
	"errors"
	"strings"
	"testing"
)

func TestMessageSize_SinglePart(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		length int
		parts  int
	}{
		{"empty", "", 0, 1},
		{"plain", "hello world", 11, 1},
		{"exactly 160", strings.Repeat("a", 160), 160, 1},
		{"extension char counts double", "a€b", 4, 1},
		{"newline counts double", "a\nb", 4, 1},
		{"brackets count double", "[ok]", 6, 1},
		{"non-gsm ignored", "ab中文😀", 2, 1}, // CJK and emoji don't count
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, err := MessageSize(tc.text)
			if err != nil {
				t.Fatalf("MessageSize(%q) error: %v", tc.text, err)
			}
			if size.Length != tc.length {
				t.Errorf("Length = %d, want %d", size.Length, tc.length)
			}
			if size.Parts != tc.parts {
				t.Errorf("Parts = %d, want %d", size.Parts, tc.parts)
			}
		})
	}
}

func TestMessageSize_MultipartLadder(t *testing.T) {
	cases := []struct {
		length int
		parts  int
	}{
		{161, 2},
		{306, 2},
		{307, 3},
		{459, 3},
		{460, 4},
		{918, 6},
		{919, 7},
		{1224, 8},
		{1225, 9},
		{1377, 9},
	}

	for _, tc := range cases {
		size, err := MessageSize(strings.Repeat("x", tc.length))
		if err != nil {
			t.Fatalf("length %d: unexpected error %v", tc.length, err)
		}
		if size.Parts != tc.parts {
			t.Errorf("length %d: parts = %d, want %d", tc.length, size.Parts, tc.parts)
		}
	}
}

func TestMessageSize_TooLong(t *testing.T) {
	_, err := MessageSize(strings.Repeat("x", 1378))
	if err == nil {
		t.Fatal("expected MessageTooLongError")
	}
	var tooLong *MessageTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("error type = %T, want *MessageTooLongError", err)
	}
	want := "message length 1378 exceeds maximum multi-part SMS length 1377"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestValidateNumber(t *testing.T) {
	info, err := ValidateNumber("07911123456", "GB")
	if err != nil {
		t.Fatalf("ValidateNumber error: %v", err)
	}
	if info.Number != "+447911123456" {
		t.Errorf("Number = %q, want +447911123456", info.Number)
	}
	if info.CountryCode != "GB" {
		t.Errorf("CountryCode = %q, want GB", info.CountryCode)
	}
	if !info.IsMobile {
		t.Error("IsMobile = false, want true for a UK mobile")
	}
}

func TestValidateNumber_Invalid(t *testing.T) {
	for _, raw := range []string{"", "not a number", "123"} {
		if _, err := ValidateNumber(raw, "GB"); err == nil {
			t.Errorf("ValidateNumber(%q) = nil error, want failure", raw)
		}
	}
}

func TestValidateNumber_E164Passthrough(t *testing.T) {
	info, err := ValidateNumber("+14155552671", "GB")
	if err != nil {
		t.Fatalf("ValidateNumber error: %v", err)
	}
	if info.CountryCode != "US" {
		t.Errorf("CountryCode = %q, want US", info.CountryCode)
	}
}
