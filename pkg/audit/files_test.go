package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePresenceSinkAppendAndRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userlog.txt")

	sink, err := NewFilePresenceSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(PresenceRecord{Seq: 1, Timestamp: "03 Nov 2023 14:22:05", Username: "alice", IP: "10.0.0.1", UDPPort: "8800"}))
	require.NoError(t, sink.Append(PresenceRecord{Seq: 2, Timestamp: "03 Nov 2023 14:23:10", Username: "bob", IP: "10.0.0.2", UDPPort: "8801"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"1; 03 Nov 2023 14:22:05; alice; 10.0.0.1; 8800\n"+
			"2; 03 Nov 2023 14:23:10; bob; 10.0.0.2; 8801\n",
		string(data))

	// Alice departs: the roster is rewritten with compacted numbering.
	require.NoError(t, sink.Rewrite([]PresenceRecord{
		{Seq: 1, Timestamp: "03 Nov 2023 14:23:10", Username: "bob", IP: "10.0.0.2", UDPPort: "8801"},
	}))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1; 03 Nov 2023 14:23:10; bob; 10.0.0.2; 8801\n", string(data))
}

func TestNewFilePresenceSinkTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userlog.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale line\n"), 0644))

	_, err := NewFilePresenceSink(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFileMessageSinkAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messagelog.txt")

	sink, err := NewFileMessageSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(MessageRecord{Seq: 1, Timestamp: "03 Nov 2023 14:25:00", Recipient: "bob", Body: "hello there"}))
	require.NoError(t, sink.Append(MessageRecord{Seq: 2, Timestamp: "03 Nov 2023 14:25:30", Recipient: "alice", Body: "hi back"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"1; 03 Nov 2023 14:25:00; bob; hello there\n"+
			"2; 03 Nov 2023 14:25:30; alice; hi back\n",
		string(data))
}

func TestFileGroupSinks(t *testing.T) {
	dir := t.TempDir()
	groups := NewFileGroupSinks(dir)

	sink, err := groups.ForGroup("chess")
	require.NoError(t, err)
	require.NoError(t, sink.Append(MessageRecord{Seq: 1, Timestamp: "03 Nov 2023 14:30:00", Recipient: "alice", Body: "good game"}))

	// Second lookup returns the same sink, not a truncated file.
	again, err := groups.ForGroup("chess")
	require.NoError(t, err)
	require.NoError(t, again.Append(MessageRecord{Seq: 2, Timestamp: "03 Nov 2023 14:31:00", Recipient: "bob", Body: "rematch"}))

	data, err := os.ReadFile(filepath.Join(dir, "chess_messagelog.txt"))
	require.NoError(t, err)
	assert.Equal(t,
		"1; 03 Nov 2023 14:30:00; alice; good game\n"+
			"2; 03 Nov 2023 14:31:00; bob; rematch\n",
		string(data))
}
