// Package bytesize parses human-readable sizes such as "64Ki" or "1.5MB" for configuration files
package bytesize

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
)

// ByteSize is a size in bytes. Plain numbers are bytes, binary units (Ki, Mi, Gi, Ti, with or
// without a trailing B) multiply by powers of 1024 and decimal units (K, M, G, T, KB, ...) by
// powers of 1000.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000 * B
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024 * B
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var units = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"t":   TB,
	"tb":  TB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
	"ti":  TiB,
	"tib": TiB,
}

// Parse reads a size like "1024", "64Ki" or "1.5MB"
func Parse(text string) (ByteSize, error) {
	matches := sizePattern.FindStringSubmatch(text)
	if matches == nil {
		return 0, cerrors.Newf("invalid byte size %q", text)
	}

	unit, ok := units[strings.ToLower(matches[2])]
	if !ok {
		return 0, cerrors.Newf("unknown byte size unit %q in %q", matches[2], text)
	}

	if strings.Contains(matches[1], ".") {
		value, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			return 0, cerrors.Wrapf(err, "invalid byte size %q", text)
		}
		return ByteSize(value * float64(unit)), nil
	}

	value, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return 0, cerrors.Wrapf(err, "invalid byte size %q", text)
	}
	return ByteSize(value) * unit, nil
}

func (s *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}

	*s = size
	return nil
}

// MarshalYAML writes the size in its shortest exact form
func (s ByteSize) MarshalYAML() (any, error) {
	return s.String(), nil
}

// String returns the size using the largest binary unit that divides it exactly
func (s ByteSize) String() string {
	for _, unit := range []struct {
		size ByteSize
		name string
	}{
		{TiB, "Ti"},
		{GiB, "Gi"},
		{MiB, "Mi"},
		{KiB, "Ki"},
	} {
		if s >= unit.size && s%unit.size == 0 {
			return strconv.FormatUint(uint64(s/unit.size), 10) + unit.name
		}
	}

	return strconv.FormatUint(uint64(s), 10)
}

// Int returns the size as an int, which is what allocators take
func (s ByteSize) Int() int {
	return int(s)
}

// DecodeHook lets mapstructure (and so viper) decode strings and numbers into ByteSize fields
func DecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}

		switch value := data.(type) {
		case string:
			return Parse(value)
		case int:
			if value < 0 {
				return nil, cerrors.Newf("byte size must not be negative, but was %d", value)
			}
			return ByteSize(value), nil
		case int64:
			if value < 0 {
				return nil, cerrors.Newf("byte size must not be negative, but was %d", value)
			}
			return ByteSize(value), nil
		case uint64:
			return ByteSize(value), nil
		case float64:
			if value < 0 {
				return nil, cerrors.Newf("byte size must not be negative, but was %g", value)
			}
			return ByteSize(value), nil
		}

		return data, nil
	}
}
