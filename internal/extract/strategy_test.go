// SPDX-License-Identifier: MPL-2.0

package extract

import (
	"errors"
	"testing"

	"github.com/idlsync/idlsync/pkg/types"
)

func TestParseStrategy_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range Strategies() {
		got, err := ParseStrategy(s.String())
		if err != nil {
			t.Errorf("ParseStrategy(%q) error: %v", s, err)
			continue
		}
		if got != s {
			t.Errorf("ParseStrategy(%q) = %v, want %v", s, got, s)
		}
		if s.Describe() == "" {
			t.Errorf("%v has no description", s)
		}
	}
}

func TestParseStrategy_Unknown(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "LastSegment", "last-segment", "bogus"} {
		_, err := ParseStrategy(in)
		if !errors.Is(err, ErrUnknownStrategy) {
			t.Errorf("ParseStrategy(%q) error = %v, want ErrUnknownStrategy", in, err)
		}
	}
	if got := Strategy(42).String(); got != "Strategy(42)" {
		t.Errorf("String() of unknown = %q", got)
	}
}

func TestStrategy_PublicName(t *testing.T) {
	t.Parallel()

	src := types.RemoteSource{
		Name:       "users",
		Repository: "git@example.com:org/user-service.git",
		Branch:     "master",
		Directory:  "thrift",
	}

	tests := []struct {
		strategy Strategy
		rel      string
		want     string
	}{
		{LastSegment, "service.thrift", "user-service.thrift"},
		{LastSegment, "nested/types.thrift", "user-service.thrift"},
		{SourceName, "service.thrift", "users.thrift"},
		{SourceName, "api.proto", "users.proto"},
		{FileName, "service.thrift", "service.thrift"},
		{FileName, "nested/types.thrift", "types.thrift"},
		{Namespaced, "service.thrift", "users/service.thrift"},
		{Namespaced, "nested/types.thrift", "users/nested/types.thrift"},
	}

	for _, tt := range tests {
		t.Run(tt.strategy.String()+"/"+tt.rel, func(t *testing.T) {
			t.Parallel()

			if got := tt.strategy.PublicName(src, tt.rel); got != tt.want {
				t.Errorf("PublicName(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}

// Every strategy must be a pure function: the same inputs always produce
// the same name.
func TestStrategy_PublicNameIsDeterministic(t *testing.T) {
	t.Parallel()

	src := types.RemoteSource{Name: "A", Repository: "file:///srv/remotes/A", Branch: "master"}
	for _, s := range Strategies() {
		first := s.PublicName(src, "service.thrift")
		for range 10 {
			if got := s.PublicName(src, "service.thrift"); got != first {
				t.Fatalf("%v produced %q then %q", s, first, got)
			}
		}
	}
}
