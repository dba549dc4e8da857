// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package env turns bound argument values into environment variables.
package env

import (
	"fmt"
	"slices"
	"strings"

	"tailscale.com/util/mak"
)

// Name returns the variable name for key under prefix: upper-cased, with
// every character outside [A-Z0-9_] replaced by '_'.
func Name(prefix, key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return '_'
	}, prefix+key)
}

// Pairs returns NAME=value entries for vals, sorted by name. Entries whose
// value is empty are omitted.
func Pairs(prefix string, vals map[string]string) ([]string, error) {
	var seen map[string]string
	var out []string
	for k, v := range vals {
		if v == "" {
			continue
		}
		n := Name(prefix, k)
		if prev, ok := seen[n]; ok {
			return nil, fmt.Errorf("%q and %q both map to %s", prev, k, n)
		}
		mak.Set(&seen, n, k)
		out = append(out, n+"="+v)
	}
	slices.Sort(out)
	return out, nil
}
