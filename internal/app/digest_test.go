package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/curator/internal/news"
)

type featuredMap map[news.Category]*news.Item

func (m featuredMap) Featured(_ context.Context, cat news.Category) (*news.Item, error) {
	if cat == "broken" {
		return nil, errors.New("boom")
	}
	return m[cat], nil
}

type fakeSender struct {
	messages []string
	photos   []string
	fail     bool
}

func (s *fakeSender) SendMessage(_ context.Context, text string) error {
	if s.fail {
		return errors.New("telegram down")
	}
	s.messages = append(s.messages, text)
	return nil
}

func (s *fakeSender) SendPhoto(_ context.Context, photoURL, _ string) error {
	if s.fail {
		return errors.New("telegram down")
	}
	s.photos = append(s.photos, photoURL)
	return nil
}

type memSentLog struct {
	seen  map[string]bool
	saves int
}

func (l *memSentLog) Seen(id string) bool  { return l.seen[id] }
func (l *memSentLog) Mark(id, _, _ string) { l.seen[id] = true }
func (l *memSentLog) Cleanup()             {}
func (l *memSentLog) Save() error          { l.saves++; return nil }

func newMemSentLog(ids ...string) *memSentLog {
	l := &memSentLog{seen: map[string]bool{}}
	for _, id := range ids {
		l.seen[id] = true
	}
	return l
}

func TestDigestSendsEachFeaturedOnce(t *testing.T) {
	src := featuredMap{
		news.CategoryNews:   {ID: "n1", Title: "Robots & tutors", Category: news.CategoryNews, SourceURL: "https://e.com/1"},
		news.CategoryEvents: {ID: "e1", Title: "Hack night", Category: news.CategoryEvents, ImageURL: "https://e.com/img.png"},
	}
	sender := &fakeSender{}
	sent := newMemSentLog()
	log, _ := test.NewNullLogger()
	d := NewDigest(src, sender, sent, log)

	assert.Equal(t, 2, d.Send(context.Background()))
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "Robots &amp; tutors")
	assert.Equal(t, []string{"https://e.com/img.png"}, sender.photos)
	assert.Equal(t, 1, sent.saves)

	assert.Zero(t, d.Send(context.Background()))
	assert.Len(t, sender.messages, 1)
	assert.Equal(t, 1, sent.saves)
}

func TestDigestSendFailureIsNotMarked(t *testing.T) {
	src := featuredMap{news.CategoryNews: {ID: "n1", Title: "A", Category: news.CategoryNews}}
	sent := newMemSentLog()
	log, hook := test.NewNullLogger()
	d := NewDigest(src, &fakeSender{fail: true}, sent, log)

	assert.Zero(t, d.Send(context.Background()))
	assert.False(t, sent.Seen("n1"))
	assert.Zero(t, sent.saves)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestFormatFeatured(t *testing.T) {
	msg := formatFeatured(news.Item{
		Title:     "Campus <AI> week",
		Category:  news.CategoryEvents,
		Excerpt:   "Talks all week.",
		Publisher: "Student Union",
	})
	assert.True(t, strings.HasPrefix(msg, "📅 <b>Featured in events</b>"))
	assert.Contains(t, msg, "<b>Campus &lt;AI&gt; week</b>")
	assert.Contains(t, msg, "Talks all week.")
	assert.True(t, strings.HasSuffix(msg, "<i>Student Union</i>"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("  short  ", 10))
	assert.Equal(t, "One. Two.", clip("One. Two. Three four five", 12))
	assert.Equal(t, "abcdef...", clip("abcdefghij", 6))
	assert.Equal(t, "é...", clip("éé", 3))
}
