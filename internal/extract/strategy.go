// SPDX-License-Identifier: MPL-2.0

package extract

import (
	"errors"
	"fmt"
	"path"

	"github.com/idlsync/idlsync/pkg/types"
)

const (
	// LastSegment names a file after the last path segment of the source's
	// repository location, keeping the original extension:
	// file:///srv/remotes/A + service.thrift -> A.thrift
	LastSegment Strategy = iota
	// SourceName names a file after the declared source name, keeping the
	// original extension.
	SourceName
	// FileName keeps the last path segment of the original file.
	FileName
	// Namespaced keeps the original relative path under a directory named
	// after the source: users/service.thrift
	Namespaced
)

// ErrUnknownStrategy is returned by ParseStrategy for an unknown identifier.
var ErrUnknownStrategy = errors.New("unknown naming strategy")

type (
	// Strategy maps a source identity and an original relative path to a
	// public filename. Every strategy is a pure function.
	Strategy int

	// UnknownStrategyError is returned when a strategy identifier is not recognized.
	UnknownStrategyError struct {
		Value string
	}
)

var strategyNames = [...]string{
	LastSegment: "lastSegment",
	SourceName:  "sourceName",
	FileName:    "fileName",
	Namespaced:  "namespaced",
}

var strategyDescriptions = [...]string{
	LastSegment: "last segment of the repository location + original extension",
	SourceName:  "declared source name + original extension",
	FileName:    "original file name",
	Namespaced:  "<source name>/<original relative path>",
}

// Strategies returns every strategy, in declaration order.
func Strategies() []Strategy {
	return []Strategy{LastSegment, SourceName, FileName, Namespaced}
}

// ParseStrategy maps a configuration identifier to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	for i, name := range strategyNames {
		if name == s {
			return Strategy(i), nil
		}
	}
	return 0, &UnknownStrategyError{Value: s}
}

// String returns the configuration identifier of the strategy.
func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// Describe returns a one-line human description of the strategy.
func (s Strategy) Describe() string {
	if s < 0 || int(s) >= len(strategyDescriptions) {
		return ""
	}
	return strategyDescriptions[s]
}

// PublicName returns the published filename for the file at rel (slash
// separated, relative to the source's IDL directory).
func (s Strategy) PublicName(src types.RemoteSource, rel string) string {
	switch s {
	case LastSegment:
		return src.Repository.LastSegment() + path.Ext(rel)
	case SourceName:
		return src.Name.String() + path.Ext(rel)
	case FileName:
		return path.Base(rel)
	case Namespaced:
		return path.Join(src.Name.String(), rel)
	default:
		panic(fmt.Sprintf("extract: unhandled strategy %d", int(s)))
	}
}

// Error implements the error interface for UnknownStrategyError.
func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown naming strategy %q", e.Value)
}

// Unwrap returns ErrUnknownStrategy for errors.Is() compatibility.
func (e *UnknownStrategyError) Unwrap() error { return ErrUnknownStrategy }
