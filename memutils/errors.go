package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrZeroSize is returned when an allocation of zero bytes is requested
var ErrZeroSize error = errors.New("allocation size must be greater than zero")

// ErrUnknownSlot is returned when an offset does not correspond to the start of any tracked region
var ErrUnknownSlot error = errors.New("unknown slot")

// ErrSlotNotOccupied is returned when freeing or querying a region that is not currently allocated
var ErrSlotNotOccupied error = errors.New("slot is not occupied")
