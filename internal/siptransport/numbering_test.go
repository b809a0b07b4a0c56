// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips leading plus and country code", "+919876543210", "9876543210"},
		{"strips country code without plus", "919876543210", "9876543210"},
		{"leaves short numbers with 91 prefix alone", "+9112345", "9112345"},
		{"leaves numbers without the prefix alone", "+12025550123", "12025550123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalizeNumber(tt.in))
		})
	}
}
