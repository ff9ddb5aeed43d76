package es

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Version is the per-aggregate position of an event: 1 for the first event,
// strictly increasing by one for every further event. Version 0 means the
// aggregate has no live events.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) String() string                         { return strconv.FormatUint(uint64(v), 10) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

// Add returns v advanced by n events.
func (v Version) Add(n int) Version { return v + Version(n) }

// ParseVersion parses a decimal version string.
func ParseVersion(s string) (Version, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: version %q", ErrInvalidArgument, s)
	}
	return Version(n), nil
}
