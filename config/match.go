// Copyright (c) FlareMQ Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import "strings"

// MatchAddress checks whether an address name matches a settings pattern.
// Rules:
// - pattern can contain '+' (single level wildcard) and '#' (multi-level wildcard at end).
// - the address name must not contain wildcards.
// - '$' prefix addresses are internal; wildcards never match their first level
//   unless the pattern also starts with '$'.
func MatchAddress(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if pattern == name {
		return true
	}

	patternLevels := strings.Split(pattern, "/")
	nameLevels := strings.Split(name, "/")

	if strings.HasPrefix(name, "$") {
		if pattern[0] != '$' {
			return false
		}
		if patternLevels[0] == "+" || patternLevels[0] == "#" {
			return false
		}
	}

	for i, pLevel := range patternLevels {
		// Multi-level wildcard must be the last level.
		if pLevel == "#" {
			return true
		}

		if i >= len(nameLevels) {
			// Pattern is longer than the name, e.g. "a/+" against "a".
			return false
		}

		if pLevel == "+" {
			continue
		}

		if pLevel != nameLevels[i] {
			return false
		}
	}

	// All pattern levels consumed without '#': level counts must agree.
	return len(patternLevels) == len(nameLevels)
}
