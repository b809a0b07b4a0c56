// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package siptransport

import "strings"

// CanonicalizeNumber applies this UA's default dialing-number policy
// (spec.md §9): strip a leading '+', then strip a leading country-code
// "91" prefix when at least 10 digits remain, since the upstream trunks
// this core dials through expect bare national numbers. mediabridge
// applies this function to every outbound number; there is no setting
// that substitutes another policy for it.
func CanonicalizeNumber(raw string) string {
	n := strings.TrimPrefix(raw, "+")
	if strings.HasPrefix(n, "91") && len(n)-2 >= 10 {
		n = n[2:]
	}
	return n
}

// NumberCanonicalizer is the function shape of a dialing-number policy such
// as CanonicalizeNumber. No component in this module accepts one;
// mediabridge calls CanonicalizeNumber directly.
type NumberCanonicalizer func(raw string) string
