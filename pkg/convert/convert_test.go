// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convert

import (
	"net/netip"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

type level int

type color string

func (c *color) UnmarshalText(b []byte) error {
	*c = color(strings.ToUpper(string(b)))
	return nil
}

func TestLookupConverts(t *testing.T) {
	reg := Default()
	tests := []struct {
		name string
		typ  reflect.Type
		in   string
		want any
	}{
		{"string", reflect.TypeFor[string](), "wer", "wer"},
		{"bool", reflect.TypeFor[bool](), "true", true},
		{"int", reflect.TypeFor[int](), "-42", -42},
		{"int8", reflect.TypeFor[int8](), "12", int8(12)},
		{"uint16", reflect.TypeFor[uint16](), "8080", uint16(8080)},
		{"float64", reflect.TypeFor[float64](), "2.5", 2.5},
		{"named int", reflect.TypeFor[level](), "3", level(3)},
		{"duration", reflect.TypeFor[time.Duration](), "1m30s", 90 * time.Second},
		{"text unmarshaler", reflect.TypeFor[color](), "red", color("RED")},
		{"empty interface", reflect.TypeFor[any](), "x", "x"},
		{"uuid", reflect.TypeFor[uuid.UUID](), "6ba7b810-9dad-11d1-80b4-00c04fd430c8", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")},
		{"netip via text", reflect.TypeFor[netip.Addr](), "10.0.0.1", netip.MustParseAddr("10.0.0.1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := reg.Lookup(tt.typ)
			if err != nil {
				t.Fatalf("Lookup(%s) error = %v", tt.typ, err)
			}
			got, err := f(tt.in)
			if err != nil {
				t.Fatalf("convert(%q) error = %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("convert(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
			if reflect.TypeOf(got) != tt.typ {
				t.Errorf("convert(%q) type = %T, want %s", tt.in, got, tt.typ)
			}
		})
	}
}

func TestLookupPointers(t *testing.T) {
	reg := Default()
	f, err := reg.Lookup(reflect.TypeFor[*int]())
	if err != nil {
		t.Fatalf("Lookup(*int) error = %v", err)
	}
	got, err := f("7")
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	p, ok := got.(*int)
	if !ok || *p != 7 {
		t.Errorf("convert = %#v, want pointer to 7", got)
	}

	f, err = reg.Lookup(reflect.TypeFor[*url.URL]())
	if err != nil {
		t.Fatalf("Lookup(*url.URL) error = %v", err)
	}
	got, err = f("https://example.com/x")
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	if u := got.(*url.URL); u.Host != "example.com" {
		t.Errorf("Host = %q, want %q", u.Host, "example.com")
	}

	f, err = reg.Lookup(reflect.TypeFor[*semver.Version]())
	if err != nil {
		t.Fatalf("Lookup(*semver.Version) error = %v", err)
	}
	got, err = f("1.2.3")
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	if v := got.(*semver.Version); v.Minor() != 2 {
		t.Errorf("Minor = %d, want 2", v.Minor())
	}
}

func TestLookupFailures(t *testing.T) {
	reg := Default()
	if _, err := reg.Lookup(reflect.TypeFor[chan int]()); err == nil {
		t.Errorf("Lookup(chan int) succeeded, want error")
	}
	if _, err := reg.Lookup(reflect.TypeFor[struct{ A int }]()); err == nil {
		t.Errorf("Lookup(struct) succeeded, want error")
	}

	bad := []struct {
		typ reflect.Type
		in  string
	}{
		{reflect.TypeFor[int](), "abc"},
		{reflect.TypeFor[int8](), "300"},
		{reflect.TypeFor[uint](), "-1"},
		{reflect.TypeFor[bool](), "maybe"},
		{reflect.TypeFor[float32](), "x1"},
		{reflect.TypeFor[time.Duration](), "soon"},
		{reflect.TypeFor[uuid.UUID](), "nope"},
		{reflect.TypeFor[*semver.Version](), "v-x"},
	}
	for _, tt := range bad {
		f, err := reg.Lookup(tt.typ)
		if err != nil {
			t.Fatalf("Lookup(%s) error = %v", tt.typ, err)
		}
		if _, err := f(tt.in); err == nil {
			t.Errorf("convert %s(%q) succeeded, want error", tt.typ, tt.in)
		}
	}
}

func TestRegisterOverrides(t *testing.T) {
	reg := Default().Clone()
	reg.Register(reflect.TypeFor[string](), func(s string) (any, error) {
		return strings.ToUpper(s), nil
	})
	f, err := reg.Lookup(reflect.TypeFor[string]())
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if got, _ := f("abc"); got != "ABC" {
		t.Errorf("convert = %v, want ABC", got)
	}

	orig, err := Default().Lookup(reflect.TypeFor[string]())
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if got, _ := orig("abc"); got != "abc" {
		t.Errorf("default registry was modified: got %v", got)
	}
}

func TestZeroRegistryFallsBackToKinds(t *testing.T) {
	var reg Registry
	f, err := reg.Lookup(reflect.TypeFor[int64]())
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if got, _ := f("9"); got != int64(9) {
		t.Errorf("convert = %#v, want int64(9)", got)
	}
}
