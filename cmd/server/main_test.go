package main

import (
	"strings"
	"testing"

	"barstock/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		ok     bool
	}{
		{"empty secret", "", false},
		{"short secret", "tooshort", false},
		{"long secret", strings.Repeat("s", 32), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(config.Config{AuthSecret: tc.secret})
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
