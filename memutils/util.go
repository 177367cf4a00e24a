package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that offsets, sizes, and alignments are expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with the provided name, if number is not zero or a power of two
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. Alignments of 0 and 1 leave the
// value untouched. alignment must be a power of two.
func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment. Alignments of 0 and 1 leave the
// value untouched. alignment must be a power of two.
func AlignDown(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return value & int(^(alignment - 1))
}

// IsAligned returns true if value is a multiple of alignment
func IsAligned(value int, alignment uint) bool {
	return AlignDown(value, alignment) == value
}
