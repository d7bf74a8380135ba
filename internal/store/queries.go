package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wfplatform/chat-service/internal/errs"
	"github.com/wfplatform/chat-service/internal/types"
)

const channelColumns = "id, external_id, name, type, private, archived, creator_id, created_at, updated_at"

// classify maps driver errors to the shared taxonomy. Absent rows are
// NotFound; anything else from the store is Transient.
func classify(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(err, errs.KindNotFound, msg)
	}
	return errs.Wrap(err, errs.KindTransient, msg)
}

func (db *PgRepository) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return errs.Wrap(err, errs.KindTransient, "ping")
	}
	return nil
}

func scanChannel(row *sql.Row) (types.Channel, error) {
	var ch types.Channel
	err := row.Scan(
		&ch.Id,
		&ch.ExternalId,
		&ch.Name,
		&ch.Type,
		&ch.Private,
		&ch.Archived,
		&ch.CreatorId,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	return ch, err
}

func (db *PgRepository) CreateChannel(ctx context.Context, params CreateChannelParams) (types.Channel, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Channel{}, classify(err, "begin tx")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx,
		"INSERT INTO channels (external_id, name, type, private, creator_id) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING "+channelColumns,
		params.ExternalId,
		params.Name,
		params.Type,
		params.Private,
		params.CreatorId,
	)

	var ch types.Channel
	ch, err = scanChannel(row)
	if err != nil {
		return types.Channel{}, classify(err, "create channel")
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO memberships (channel_id, user_id, role) VALUES ($1, $2, $3)",
		ch.Id,
		params.CreatorId,
		types.RoleAdmin,
	)
	if err != nil {
		return types.Channel{}, classify(err, "create channel membership")
	}

	if err = tx.Commit(); err != nil {
		return types.Channel{}, classify(err, "commit create channel")
	}

	return ch, nil
}

func (db *PgRepository) GetChannelById(ctx context.Context, id int64) (types.Channel, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE id = $1 LIMIT 1", id)

	ch, err := scanChannel(row)
	if err != nil {
		return types.Channel{}, classify(err, "get channel")
	}
	return ch, nil
}

func (db *PgRepository) GetChannelByExternalId(ctx context.Context, externalId string) (types.Channel, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE external_id = $1 LIMIT 1", externalId)

	ch, err := scanChannel(row)
	if err != nil {
		return types.Channel{}, classify(err, "get channel")
	}
	return ch, nil
}

func directKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

func (db *PgRepository) EnsureDirectChannel(ctx context.Context, userA, userB int64) (types.Channel, bool, error) {
	key := directKey(userA, userB)

	row := db.conn.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE direct_key = $1 AND type = 'direct' LIMIT 1", key)
	ch, err := scanChannel(row)
	if err == nil {
		return ch, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.Channel{}, false, classify(err, "get direct channel")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Channel{}, false, classify(err, "begin tx")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row = tx.QueryRowContext(ctx,
		"INSERT INTO channels (external_id, name, type, private, creator_id, direct_key) "+
			"VALUES ($1, 'direct', 'direct', TRUE, $2, $3) "+
			"ON CONFLICT (direct_key) WHERE type = 'direct' DO NOTHING RETURNING "+channelColumns,
		key,
		userA,
		key,
	)
	ch, err = scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		// lost the creation race; reuse the winner's channel
		tx.Rollback()
		err = nil
		row = db.conn.QueryRowContext(ctx,
			"SELECT "+channelColumns+" FROM channels WHERE direct_key = $1 AND type = 'direct' LIMIT 1", key)
		ch, err = scanChannel(row)
		if err != nil {
			return types.Channel{}, false, classify(err, "get direct channel")
		}
		return ch, false, nil
	}
	if err != nil {
		return types.Channel{}, false, classify(err, "create direct channel")
	}

	for _, userId := range []int64{userA, userB} {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO memberships (channel_id, user_id, role) VALUES ($1, $2, $3)",
			ch.Id,
			userId,
			types.RoleMember,
		)
		if err != nil {
			return types.Channel{}, false, classify(err, "create direct membership")
		}
	}

	if err = tx.Commit(); err != nil {
		return types.Channel{}, false, classify(err, "commit direct channel")
	}

	return ch, true, nil
}

func (db *PgRepository) GetMembership(ctx context.Context, channelId, userId int64) (types.Membership, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT channel_id, user_id, role, active, joined_at, last_read_at FROM memberships "+
			"WHERE channel_id = $1 AND user_id = $2 LIMIT 1",
		channelId,
		userId,
	)

	var m types.Membership
	err := row.Scan(&m.ChannelId, &m.UserId, &m.Role, &m.Active, &m.JoinedAt, &m.LastReadAt)
	if err != nil {
		return types.Membership{}, classify(err, "get membership")
	}
	return m, nil
}

func (db *PgRepository) ListChannelsForUser(ctx context.Context, userId int64) ([]types.ChannelSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.external_id, c.name, c.type, c.private, c.archived, c.creator_id, "+
			"c.created_at, c.updated_at, c.last_message_at, m.role, m.last_read_at, "+
			"(SELECT COUNT(*) FROM messages msg WHERE msg.channel_id = c.id "+
			"AND msg.created_at > m.last_read_at AND NOT msg.deleted) "+
			"FROM memberships m JOIN channels c ON c.id = m.channel_id "+
			"WHERE m.user_id = $1 AND m.active ORDER BY c.last_message_at DESC NULLS LAST",
		userId,
	)
	if err != nil {
		return nil, classify(err, "list channels")
	}
	defer rows.Close()

	var summaries []types.ChannelSummary
	for rows.Next() {
		var s types.ChannelSummary
		var lastMsgAt sql.NullTime
		if err := rows.Scan(
			&s.Id, &s.ExternalId, &s.Name, &s.Type, &s.Private, &s.Archived, &s.CreatorId,
			&s.CreatedAt, &s.UpdatedAt, &lastMsgAt, &s.Role, &s.LastReadAt, &s.UnreadCount,
		); err != nil {
			return nil, classify(err, "scan channel summary")
		}
		if lastMsgAt.Valid {
			s.LastMessageAt = lastMsgAt.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list channels")
	}

	return summaries, nil
}

func (db *PgRepository) ListMemberUserIds(ctx context.Context, channelId int64) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT user_id FROM memberships WHERE channel_id = $1 AND active", channelId)
	if err != nil {
		return nil, classify(err, "list members")
	}
	defer rows.Close()

	return scanIds(rows)
}

func (db *PgRepository) ListCoMemberUserIds(ctx context.Context, userId int64) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT DISTINCT other.user_id FROM memberships own "+
			"JOIN memberships other ON other.channel_id = own.channel_id "+
			"WHERE own.user_id = $1 AND own.active AND other.active AND other.user_id <> $1",
		userId,
	)
	if err != nil {
		return nil, classify(err, "list co-members")
	}
	defer rows.Close()

	return scanIds(rows)
}

func scanIds(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "scan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "scan ids")
	}
	return ids, nil
}

func (db *PgRepository) UpdateLastReadAt(ctx context.Context, channelId, userId int64, readAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE memberships SET last_read_at = $3 WHERE channel_id = $1 AND user_id = $2 AND last_read_at < $3",
		channelId,
		userId,
		readAt,
	)
	if err != nil {
		return classify(err, "update last read")
	}
	return nil
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Message{}, classify(err, "begin tx")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Lock the channel row so concurrent posts to the same channel
	// serialize on timestamp assignment.
	var lastMsgAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		"SELECT last_message_at FROM channels WHERE id = $1 FOR UPDATE", params.ChannelId,
	).Scan(&lastMsgAt)
	if err != nil {
		return types.Message{}, classify(err, "lock channel")
	}

	createdAt := time.Now().UTC()
	if lastMsgAt.Valid && !createdAt.After(lastMsgAt.Time) {
		createdAt = lastMsgAt.Time.Add(time.Microsecond)
	}

	var parentId sql.NullInt64
	if params.ParentId != 0 {
		parentId = sql.NullInt64{Int64: params.ParentId, Valid: true}
	}

	msg := types.Message{
		ChannelId: params.ChannelId,
		SenderId:  params.SenderId,
		Type:      params.Type,
		Content:   params.Content,
		ParentId:  params.ParentId,
		CreatedAt: createdAt,
	}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO messages (channel_id, sender_id, type, content, parent_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		params.ChannelId,
		params.SenderId,
		params.Type,
		params.Content,
		parentId,
		createdAt,
	).Scan(&msg.Id)
	if err != nil {
		return types.Message{}, classify(err, "create message")
	}

	for _, att := range params.Attachments {
		a := att
		a.MessageId = msg.Id
		err = tx.QueryRowContext(ctx,
			"INSERT INTO attachments (message_id, name, size, mime_type, storage_key) "+
				"VALUES ($1, $2, $3, $4, $5) RETURNING id",
			msg.Id,
			a.Name,
			a.Size,
			a.MimeType,
			a.StorageKey,
		).Scan(&a.Id)
		if err != nil {
			return types.Message{}, classify(err, "create attachment")
		}
		msg.Attachments = append(msg.Attachments, a)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE channels SET last_message_at = $2, updated_at = $2 WHERE id = $1",
		params.ChannelId,
		createdAt,
	)
	if err != nil {
		return types.Message{}, classify(err, "update channel high-water mark")
	}

	if err = tx.Commit(); err != nil {
		return types.Message{}, classify(err, "commit message")
	}

	return msg, nil
}

const messageColumns = "id, channel_id, sender_id, type, content, parent_id, edited, edited_at, deleted, deleted_at, created_at"

type messageScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row messageScanner) (types.Message, error) {
	var msg types.Message
	var parentId sql.NullInt64
	var editedAt, deletedAt sql.NullTime

	err := row.Scan(
		&msg.Id,
		&msg.ChannelId,
		&msg.SenderId,
		&msg.Type,
		&msg.Content,
		&parentId,
		&msg.Edited,
		&editedAt,
		&msg.Deleted,
		&deletedAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return types.Message{}, err
	}

	msg.ParentId = parentId.Int64
	if editedAt.Valid {
		msg.EditedAt = editedAt.Time
	}
	if deletedAt.Valid {
		msg.DeletedAt = deletedAt.Time
	}
	return msg, nil
}

func (db *PgRepository) GetMessageById(ctx context.Context, id int64) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1", id)

	msg, err := scanMessage(row)
	if err != nil {
		return types.Message{}, classify(err, "get message")
	}
	return msg, nil
}

func (db *PgRepository) UpdateMessageContent(ctx context.Context, id int64, content string, editedAt time.Time) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET content = $2, edited = TRUE, edited_at = $3 "+
			"WHERE id = $1 AND NOT deleted RETURNING "+messageColumns,
		id,
		content,
		editedAt,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return types.Message{}, classify(err, "update message")
	}
	return msg, nil
}

func (db *PgRepository) SoftDeleteMessage(ctx context.Context, id int64, deletedAt time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin tx")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE messages SET content = '', deleted = TRUE, deleted_at = $2 WHERE id = $1 AND NOT deleted",
		id,
		deletedAt,
	)
	if err != nil {
		return classify(err, "delete message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = errs.New(errs.KindNotFound, "message not found")
		return err
	}

	// attachments cascade with their message
	_, err = tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = $1", id)
	if err != nil {
		return classify(err, "delete attachments")
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM reactions WHERE message_id = $1", id)
	if err != nil {
		return classify(err, "delete reactions")
	}

	if err = tx.Commit(); err != nil {
		return classify(err, "commit delete")
	}
	return nil
}

func (db *PgRepository) GetMessages(ctx context.Context, channelId int64, beforeTs time.Time, beforeId int64, limit int) ([]types.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if beforeTs.IsZero() {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE channel_id = $1 "+
				"ORDER BY created_at DESC, id DESC LIMIT $2",
			channelId,
			limit,
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE channel_id = $1 "+
				"AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC LIMIT $4",
			channelId,
			beforeTs,
			beforeId,
			limit,
		)
	}
	if err != nil {
		return nil, classify(err, "get messages")
	}
	defer rows.Close()

	messages := make([]types.Message, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, classify(err, "scan message")
		}
		messages = append(messages, msg)
		ids = append(ids, msg.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "get messages")
	}

	if err := db.attachAttachments(ctx, messages, ids); err != nil {
		return nil, err
	}

	return messages, nil
}

func (db *PgRepository) attachAttachments(ctx context.Context, messages []types.Message, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, message_id, name, size, mime_type, storage_key FROM attachments WHERE message_id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return classify(err, "get attachments")
	}
	defer rows.Close()

	byMessage := make(map[int64][]types.Attachment)
	for rows.Next() {
		var a types.Attachment
		if err := rows.Scan(&a.Id, &a.MessageId, &a.Name, &a.Size, &a.MimeType, &a.StorageKey); err != nil {
			return classify(err, "scan attachment")
		}
		byMessage[a.MessageId] = append(byMessage[a.MessageId], a)
	}
	if err := rows.Err(); err != nil {
		return classify(err, "get attachments")
	}

	for i := range messages {
		messages[i].Attachments = byMessage[messages[i].Id]
	}
	return nil
}

func (db *PgRepository) UpsertReaction(ctx context.Context, messageId, userId int64, kind string) (types.Reaction, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO reactions (message_id, user_id, kind, updated_at) VALUES ($1, $2, $3, now()) "+
			"ON CONFLICT (message_id, user_id) DO UPDATE SET kind = EXCLUDED.kind, updated_at = now() "+
			"RETURNING message_id, user_id, kind, updated_at",
		messageId,
		userId,
		kind,
	)

	var r types.Reaction
	if err := row.Scan(&r.MessageId, &r.UserId, &r.Kind, &r.UpdatedAt); err != nil {
		return types.Reaction{}, classify(err, "upsert reaction")
	}
	return r, nil
}

func (db *PgRepository) DeleteReaction(ctx context.Context, messageId, userId int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = $1 AND user_id = $2",
		messageId,
		userId,
	)
	if err != nil {
		return false, classify(err, "delete reaction")
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (db *PgRepository) ListReactions(ctx context.Context, messageIds []int64) ([]types.Reaction, error) {
	if len(messageIds) == 0 {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT message_id, user_id, kind, updated_at FROM reactions WHERE message_id = ANY($1) ORDER BY message_id, updated_at",
		pq.Array(messageIds),
	)
	if err != nil {
		return nil, classify(err, "list reactions")
	}
	defer rows.Close()

	var reactions []types.Reaction
	for rows.Next() {
		var r types.Reaction
		if err := rows.Scan(&r.MessageId, &r.UserId, &r.Kind, &r.UpdatedAt); err != nil {
			return nil, classify(err, "scan reaction")
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list reactions")
	}

	return reactions, nil
}
