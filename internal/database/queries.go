package database

// Channel queries
const (
	InsertChannelQuery = `
		INSERT OR IGNORE INTO channels (channel_id, channel_id_hash)
		VALUES (?, ?)
	`

	SelectChannelQuery = `
		SELECT channel_id_hash FROM channels WHERE channel_id_hash = ?
	`

	DeleteChannelQuery = `
		DELETE FROM channels WHERE channel_id_hash = ?
	`
)

// Forwarded message queries
const (
	InsertForwardedQuery = `
		INSERT OR IGNORE INTO forwarded_messages (channel_id_hash, message_id)
		VALUES (?, ?)
	`

	SelectForwardedQuery = `
		SELECT message_id FROM forwarded_messages WHERE channel_id_hash = ?
	`

	SelectChannelHashesQuery = `
		SELECT DISTINCT channel_id_hash FROM forwarded_messages
	`

	DeleteForwardedByChannelQuery = `
		DELETE FROM forwarded_messages WHERE channel_id_hash = ?
	`

	DeleteOldForwardedQuery = `
		DELETE FROM forwarded_messages
		WHERE channel_id_hash = ?
		  AND message_id != ?
		  AND forwarded_at < datetime('now', '-' || ? || ' days')
	`
)
