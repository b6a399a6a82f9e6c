// Package offsets names the start offsets a partition fetch stream accepts:
// an absolute offset (>= 0), or one of the Latest and Earliest sentinels.
package offsets

import (
	"strconv"
	"strings"

	"github.com/IBM/sarama"

	kqerrors "github.com/mkocikowski/kafkaqueue/errors"
)

const (
	// Start with the next record produced to the partition.
	Latest int64 = sarama.OffsetNewest
	// Start with the oldest record still retained by the partition.
	Earliest int64 = sarama.OffsetOldest
)

// Valid is true for non-negative offsets and the sentinels.
func Valid(offset int64) bool {
	return offset >= 0 || offset == Latest || offset == Earliest
}

// Parse offset from a string: "latest" (or "newest"), "earliest" (or
// "oldest"), or a number. Numbers -1 and -2 are accepted as the sentinels.
func Parse(s string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest", "newest":
		return Latest, nil
	case "earliest", "oldest":
		return Earliest, nil
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid offset %q", s)
	}
	if !Valid(offset) {
		return 0, kqerrors.Kindf(kqerrors.ErrConfiguration, "invalid offset %d", offset)
	}
	return offset, nil
}

// ParseList parses each element of ss.
func ParseList(ss []string) ([]int64, error) {
	offsets := make([]int64, len(ss))
	for i, s := range ss {
		o, err := Parse(s)
		if err != nil {
			return nil, err
		}
		offsets[i] = o
	}
	return offsets, nil
}

// Format is the inverse of Parse.
func Format(offset int64) string {
	switch offset {
	case Latest:
		return "latest"
	case Earliest:
		return "earliest"
	}
	return strconv.FormatInt(offset, 10)
}
