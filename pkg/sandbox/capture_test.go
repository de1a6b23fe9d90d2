package sandbox

import (
	"strings"
	"testing"

	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLines(t *testing.T) {
	subject := broadcast.New[string]()
	var published []string
	subject.Subscribe(func(s string) { published = append(published, s) })

	c := NewCapture(subject)
	calls := 0
	require.NoError(t, c.ReadLines(Stdout, strings.NewReader("a\r\nb\nc"), func() { calls++ }))
	require.NoError(t, c.ReadLines(Stderr, strings.NewReader("boom\n"), nil))

	stdout, stderr := c.Output()
	assert.Equal(t, []string{"a", "b", "c"}, stdout)
	assert.Equal(t, []string{"boom"}, stderr)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"a", "b", "c", "boom"}, published)

	c.Clear()
	stdout, stderr = c.Output()
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
}

func TestWriterSplitsAcrossWrites(t *testing.T) {
	c := NewCapture(nil)
	w := c.Writer(Stderr, nil)
	for _, p := range []string{"par", "tial\nwho", "le\n", "tail"} {
		n, err := w.Write([]byte(p))
		require.NoError(t, err)
		assert.Equal(t, len(p), n)
	}
	_, stderr := c.Output()
	assert.Equal(t, []string{"partial", "whole"}, stderr)

	require.NoError(t, w.Close())
	_, stderr = c.Output()
	assert.Equal(t, []string{"partial", "whole", "tail"}, stderr)
	assert.Equal(t, "stderr", Stderr.String())
}
