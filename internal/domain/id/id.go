// Package id implements the composite, sortable identifiers used across
// the core's domain objects: a short type prefix plus a time-ordered
// random suffix, rendered as a single string.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"
)

// Prefix identifies the kind of entity an Id belongs to.
type Prefix string

const (
	PrefixConnection        Prefix = "conn"
	PrefixConnectionModel   Prefix = "cm_def"
	PrefixConnectionSchema  Prefix = "cm_schema"
	PrefixEvent             Prefix = "evt"
	PrefixRootContext        Prefix = "root_ctx"
	PrefixPipelineContext    Prefix = "pipe_ctx"
	PrefixExtractorContext   Prefix = "extr_ctx"
	PrefixTransaction        Prefix = "txn"
	PrefixDedupRecord        Prefix = "dedup"
	PrefixSecret             Prefix = "secret"
)

// encoding uses letters only, so Parse can find where the decimal
// timestamp ends and the suffix begins.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyzABCDEF").WithPadding(base32.NoPadding)

// Id is a composite identifier: a prefix plus a millisecond timestamp plus
// a random suffix, so lexical/string order tracks creation order within a
// prefix class.
type Id struct {
	prefix Prefix
	millis int64
	suffix string
}

// New returns a fresh Id for the given prefix, timestamped at creation.
func New(prefix Prefix) Id {
	return newAt(prefix, time.Now())
}

func newAt(prefix Prefix, t time.Time) Id {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back to a
		// fixed-zero suffix rather than panicking mid-request.
		buf = make([]byte, 10)
	}
	return Id{
		prefix: prefix,
		millis: t.UnixMilli(),
		suffix: encoding.EncodeToString(buf),
	}
}

// String renders the Id as "<prefix>_<millis><suffix>".
func (i Id) String() string {
	return fmt.Sprintf("%s_%d%s", i.prefix, i.millis, i.suffix)
}

// Prefix returns the Id's type prefix.
func (i Id) Prefix() Prefix { return i.prefix }

// Timestamp returns the creation time encoded in the Id.
func (i Id) Timestamp() time.Time { return time.UnixMilli(i.millis) }

// IsZero reports whether this is the zero value (no Id assigned).
func (i Id) IsZero() bool { return i.millis == 0 && i.suffix == "" }

// Less orders two Ids of the same prefix by creation time, breaking ties
// on the random suffix so ordering stays total.
func (i Id) Less(other Id) bool {
	if i.millis != other.millis {
		return i.millis < other.millis
	}
	return i.suffix < other.suffix
}

// Parse parses a rendered Id string back into an Id, validating the prefix.
func Parse(s string) (Id, error) {
	idx := strings.LastIndex(s, "_")
	if idx < 0 {
		return Id{}, fmt.Errorf("id: malformed identifier %q", s)
	}
	prefix := Prefix(s[:idx])
	rest := s[idx+1:]

	digitEnd := 0
	for digitEnd < len(rest) && rest[digitEnd] >= '0' && rest[digitEnd] <= '9' {
		digitEnd++
	}
	if digitEnd == 0 {
		return Id{}, fmt.Errorf("id: malformed identifier %q: no timestamp", s)
	}
	var millis int64
	if _, err := fmt.Sscanf(rest[:digitEnd], "%d", &millis); err != nil {
		return Id{}, fmt.Errorf("id: malformed timestamp in %q: %w", s, err)
	}

	return Id{prefix: prefix, millis: millis, suffix: rest[digitEnd:]}, nil
}

// MarshalText implements encoding.TextMarshaler so Id serializes as its
// string form in JSON and elsewhere.
func (i Id) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Id) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
