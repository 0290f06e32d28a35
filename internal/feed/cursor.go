package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("feed: invalid cursor")

// Cursor is the position after the last item of a page. Chronological and mixed
// pages only use CreatedAt. Engagement pages also carry the sort key and id of
// the last item, so the next page resumes after it in (likes, comments,
// createdAt, id) order.
type Cursor struct {
	CreatedAt time.Time
	Likes     int
	Comments  int
	ID        string
}

// Keyset reports whether c carries an engagement position.
func (c Cursor) Keyset() bool { return c.ID != "" }

// String renders a time cursor as RFC 3339 and a keyset cursor as an opaque token.
// Format of the token: base64url("eng:{likes}:{comments}:{unix_nanos}:{id}").
func (c Cursor) String() string {
	if !c.Keyset() {
		return c.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	raw := fmt.Sprintf("eng:%d:%d:%d:%s", c.Likes, c.Comments, c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cursor) UnmarshalText(b []byte) error {
	parsed, err := ParseCursor(string(b))
	if err != nil {
		return err
	}
	if parsed == nil {
		*c = Cursor{}
		return nil
	}
	*c = *parsed
	return nil
}

// ParseCursor accepts either an RFC 3339 timestamp or a keyset token. An empty
// string means the first page.
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &Cursor{CreatedAt: ts}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(data), ":", 5)
	if len(parts) != 5 || parts[0] != "eng" || parts[4] == "" {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidCursor)
	}
	likes, err1 := strconv.Atoi(parts[1])
	comments, err2 := strconv.Atoi(parts[2])
	nanos, err3 := strconv.ParseInt(parts[3], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		Likes:     likes,
		Comments:  comments,
		ID:        parts[4],
	}, nil
}

// cursorAfter is the cursor that resumes after p under alg.
func cursorAfter(p Post, alg Algorithm) *Cursor {
	c := &Cursor{CreatedAt: p.CreatedAt}
	if alg == Engagement {
		c.Likes, c.Comments, c.ID = p.Likes, p.Comments, p.ID
	}
	return c
}

// Follows reports whether p comes after the cursor in engagement order, which is
// (likes, comments, createdAt, id) descending.
func (c Cursor) Follows(p Post) bool {
	if p.Likes != c.Likes {
		return p.Likes < c.Likes
	}
	if p.Comments != c.Comments {
		return p.Comments < c.Comments
	}
	if !p.CreatedAt.Equal(c.CreatedAt) {
		return p.CreatedAt.Before(c.CreatedAt)
	}
	return p.ID < c.ID
}
