package pipeline

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

// EncodeCursor derives the opaque history token from a message's
// ordering key (created_at, id).
func EncodeCursor(msg types.Message) string {
	raw := fmt.Sprintf("%d:%d", msg.CreatedAt.UnixMicro(), msg.Id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. Malformed tokens are reported as
// InvalidContent so callers can reject them without retry.
func DecodeCursor(cursor string) (time.Time, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, errs.Wrap(err, errs.KindInvalidContent, "malformed cursor")
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, errs.New(errs.KindInvalidContent, "malformed cursor")
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, errs.Wrap(err, errs.KindInvalidContent, "malformed cursor")
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, errs.Wrap(err, errs.KindInvalidContent, "malformed cursor")
	}

	return time.UnixMicro(micros).UTC(), id, nil
}
