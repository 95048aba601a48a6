package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

type Sort string

const (
	SortRecent   Sort = "recent"
	SortTrending Sort = "trending"
)

// ParseSort maps anything other than "trending" to the recent feed.
func ParseSort(s string) Sort {
	if strings.EqualFold(strings.TrimSpace(s), string(SortTrending)) {
		return SortTrending
	}
	return SortRecent
}

// Key is an item's position in a feed ordering. Score is ignored by the recent feed.
type Key struct {
	Score     int64
	CreatedAt time.Time
}

// EncodeCursor renders k as an opaque URL-safe token for the given sort.
func EncodeCursor(sort Sort, k Key) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawCursor(sort, k)))
}

func rawCursor(sort Sort, k Key) string {
	ts := k.CreatedAt.UTC().Format(time.RFC3339Nano)
	if sort == SortTrending {
		return strconv.FormatInt(k.Score, 10) + ":" + ts
	}
	return ts
}

// DecodeCursor accepts a token produced by EncodeCursor, or the raw form it
// wraps: a timestamp for the recent feed, "<score>:<timestamp>" for trending.
func DecodeCursor(sort Sort, token string) (Key, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrInvalidCursor)
	}

	raw := token
	// raw cursors always carry a colon, which base64url never produces
	if !strings.Contains(token, ":") {
		decoded, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		raw = string(decoded)
	}

	if sort == SortTrending {
		scorePart, tsPart, ok := strings.Cut(raw, ":")
		if !ok {
			return Key{}, fmt.Errorf("%w: missing score", ErrInvalidCursor)
		}
		score, err := strconv.ParseInt(scorePart, 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("%w: bad score %q", ErrInvalidCursor, scorePart)
		}
		ts, err := parseTimestamp(tsPart)
		if err != nil {
			return Key{}, err
		}
		return Key{Score: score, CreatedAt: ts}, nil
	}

	ts, err := parseTimestamp(raw)
	if err != nil {
		return Key{}, err
	}
	return Key{CreatedAt: ts}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidCursor, s)
	}
	return ts.UTC(), nil
}
