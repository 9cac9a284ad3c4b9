package main

import (
	"strconv"

	"github.com/alecthomas/units"
	"github.com/dustin/go-humanize"
)

// ByteSize is a flag value accepting plain byte counts or sizes such as "1MiB" and "4MB".
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	if n, err := strconv.ParseInt(string(text), 10, 64); err == nil {
		*b = ByteSize(n)
		return nil
	}

	n, err := units.ParseStrictBytes(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
