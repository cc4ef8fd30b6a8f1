package models

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const logIndexBits = 32

// Version orders observations of one entity: by block, then by log index.
type Version struct {
	Block    uint64
	LogIndex uint32
}

func NewVersion(block uint64, logIndex uint) Version {
	return Version{Block: block, LogIndex: uint32(logIndex)}
}

// Packed returns block<<32 | logIndex. Blocks must fit in 32 bits.
func (v Version) Packed() uint64 {
	return v.Block<<logIndexBits | uint64(v.LogIndex)
}

// UnpackVersion is the inverse of Version.Packed.
func UnpackVersion(packed uint64) Version {
	return Version{
		Block:    packed >> logIndexBits,
		LogIndex: uint32(packed),
	}
}

// ParseVersion reads a packed version stored as decimal text.
func ParseVersion(s string) (Version, error) {
	packed, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Version{}, errors.Wrapf(err, "invalid version %q", s)
	}
	return UnpackVersion(packed), nil
}

func (v Version) After(other Version) bool {
	return v.Packed() > other.Packed()
}

func (v Version) String() string {
	return fmt.Sprintf("%d:%d", v.Block, v.LogIndex)
}
