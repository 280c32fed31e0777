package importer

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hession/convscope/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const claudeExport = `[
  {
    "uuid": "c-1",
    "name": "Trip Planning",
    "created_at": "2024-03-01T10:00:00.000000Z",
    "updated_at": "2024-03-01T11:00:00.000000Z",
    "chat_messages": [
      {"uuid": "m-1", "text": "  Let's go to Japan  ", "sender": "human", "created_at": "2024-03-01T10:00:00Z"},
      {"uuid": "m-2", "text": "", "sender": "assistant", "created_at": "2024-03-01T10:00:01Z"},
      {"uuid": "m-3", "text": "Great idea!", "sender": "assistant", "created_at": "2024-03-01T10:00:02Z"}
    ]
  },
  {
    "uuid": "c-2",
    "name": "Empty",
    "chat_messages": [{"text": "   ", "sender": "human"}]
  },
  {
    "uuid": "c-3",
    "name": "",
    "chat_messages": [{"text": "This opening message is definitely longer than fifty characters in total", "sender": "human"}]
  },
  {
    "uuid": "c-4",
    "name": "No messages"
  }
]`

func TestParse_RejectsNonArray(t *testing.T) {
	for _, input := range []string{`{"conversations": []}`, `"text"`, ``, `[{`, `42`} {
		_, err := Parse(strings.NewReader(input))
		var fe *FormatError
		assert.True(t, errors.As(err, &fe), "input %q", input)
	}
}

func TestImport_FormatErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	im := New(s)
	_, err := im.Import(ctx, strings.NewReader(claudeExport), Options{})
	require.NoError(t, err)

	_, err = im.Import(ctx, strings.NewReader(`{"not": "an array"}`), Options{Replace: true})
	var fe *FormatError
	require.True(t, errors.As(err, &fe))

	n, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "store was not reset")
}

func TestImport_FiltersAndTitles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary, err := New(s).Import(ctx, strings.NewReader(claudeExport), Options{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, &Summary{Conversations: 2, Messages: 3, Skipped: 2}, summary)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, "Trip Planning", convs[0].Title)
	assert.Equal(t, "c-1", convs[0].SourceID)
	require.NotNil(t, convs[0].CreatedAt)
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Equal(*convs[0].CreatedAt))

	assert.Equal(t, "This opening message is definitely longer than fif...", convs[1].Title)
	assert.Nil(t, convs[1].CreatedAt)

	// Every persisted conversation has at least one message.
	for _, c := range convs {
		msgs, err := s.GetMessagesForConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, msgs, c.Title)
	}

	msgs, err := s.GetMessagesForConversation(ctx, convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Let's go to Japan", msgs[0].Text)
	assert.Equal(t, store.RoleHuman, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
}

func TestImport_PlainFormat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	input := `[{"id": "x1", "name": "", "createdAt": "2024-05-10T09:00:00Z",
		"messages": [{"id": "1", "text": "pasta or rice?", "sender": "human", "createdAt": "2024-05-10T09:00:00Z"}]}]`

	_, err := New(s).Import(ctx, strings.NewReader(input), Options{})
	require.NoError(t, err)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "pasta or rice?", convs[0].Title)
	assert.Equal(t, "x1", convs[0].SourceID)
}

func TestImport_ReplaceAndProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	im := New(s)
	_, err := im.Import(ctx, strings.NewReader(claudeExport), Options{})
	require.NoError(t, err)

	var calls [][2]int
	_, err = im.Import(ctx, strings.NewReader(claudeExport), Options{
		Replace:  true,
		Progress: func(done, total int) { calls = append(calls, [2]int{done, total}) },
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 2}, {1, 2}, {2, 2}}, calls)

	n, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = im.Import(ctx, strings.NewReader(claudeExport), Options{Replace: false})
	require.NoError(t, err)
	n, err = s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

type tuple struct {
	title string
	role  store.Role
	text  string
}

func tuples(t *testing.T, s store.Store) []tuple {
	t.Helper()
	ctx := context.Background()
	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	var out []tuple
	for _, c := range convs {
		msgs, err := s.GetMessagesForConversation(ctx, c.ID)
		require.NoError(t, err)
		for _, m := range msgs {
			out = append(out, tuple{c.Title, m.Role, m.Text})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].title != out[j].title {
			return out[i].title < out[j].title
		}
		return out[i].text < out[j].text
	})
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()
	_, err := New(src).Import(ctx, strings.NewReader(claudeExport), Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := New(src).Export(ctx, nil, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := newTestStore(t)
	_, err = New(dst).Import(ctx, bytes.NewReader(buf.Bytes()), Options{Replace: true})
	require.NoError(t, err)

	assert.Equal(t, tuples(t, src), tuples(t, dst))

	srcConvs, err := src.ListConversations(ctx)
	require.NoError(t, err)
	dstConvs, err := dst.ListConversations(ctx)
	require.NoError(t, err)
	require.NotNil(t, dstConvs[0].CreatedAt)
	assert.True(t, srcConvs[0].CreatedAt.Equal(*dstConvs[0].CreatedAt))
	assert.Equal(t, srcConvs[0].SourceID, dstConvs[0].SourceID)
}

func TestCollect_Selection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := New(s).Import(ctx, strings.NewReader(claudeExport), Options{})
	require.NoError(t, err)
	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)

	got, err := New(s).Collect(ctx, []int64{convs[1].ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, convs[1].Title, got[0].Title)

	_, err = New(s).Collect(ctx, []int64{9999})
	assert.True(t, store.IsNotFound(err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "日本語...", truncate("日本語のテキスト", 3))
}

func TestParseTime(t *testing.T) {
	assert.Nil(t, parseTime(nil))
	assert.Nil(t, parseTime([]byte(`null`)))
	assert.Nil(t, parseTime([]byte(`"not a date"`)))

	ts := parseTime([]byte(`1709287200000`))
	require.NotNil(t, ts)
	assert.Equal(t, int64(1709287200000), ts.UnixMilli())

	ts = parseTime([]byte(`"2024-03-01"`))
	require.NotNil(t, ts)
	assert.Equal(t, 2024, ts.Year())
}

func TestImport_FailedConversationLeavesNoEmptyRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.db")
	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TRIGGER reject_poison BEFORE INSERT ON messages
		WHEN NEW.text = 'poison' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	input := `[
	  {"name": "Good", "chat_messages": [{"text": "hello", "sender": "human"}]},
	  {"name": "Bad", "chat_messages": [{"text": "ok", "sender": "human"}, {"text": "poison", "sender": "assistant"}]}
	]`
	ctx := context.Background()
	summary, err := New(s).Import(ctx, strings.NewReader(input), Options{Replace: true})
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.Equal(t, 1, summary.Conversations)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Good", convs[0].Title)
	for _, c := range convs {
		msgs, err := s.GetMessagesForConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, msgs)
	}
}
