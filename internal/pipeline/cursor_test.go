package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

func TestCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	msg := types.Message{Id: 42, CreatedAt: createdAt}

	cursor := EncodeCursor(msg)
	require.NotEmpty(t, cursor)

	ts, id, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.True(t, ts.Equal(createdAt), "expected %v, got %v", createdAt, ts)
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, cursor := range []string{
		"not base64!!",
		"bm9jb2xvbg",     // no separator
		"YWJjOjQy",       // "abc:42", bad timestamp
		"MTIzOmFiYw",     // "123:abc", bad id
	} {
		t.Run(cursor, func(t *testing.T) {
			_, _, err := DecodeCursor(cursor)
			assert.True(t, errs.Is(err, errs.KindInvalidContent), "expected invalid content, got %v", err)
		})
	}
}
