package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chanrelay/internal/models"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is an embedded key-value watermark store backend. Keys:
//
//	init/<channel>        -> initialization marker
//	wm/<channel>/<msg id> -> forwarded-at unix seconds
//
// The channel segment is path-escaped: channel ids are often URL-shaped and
// a raw '/' in the id would collide with the key separator, leaking one
// channel's entries into a sibling channel's watermark.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("pebble store requires a database path")
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}

	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func channelSegment(channelID string) string {
	return url.PathEscape(channelID)
}

func initKey(channelID string) []byte {
	return []byte("init/" + channelSegment(channelID))
}

func forwardedKey(channelID, messageID string) []byte {
	return []byte("wm/" + channelSegment(channelID) + "/" + messageID)
}

func forwardedPrefix(channelID string) ([]byte, []byte) {
	lower := []byte("wm/" + channelSegment(channelID) + "/")
	upper := append([]byte{}, lower...)
	upper[len(upper)-1]++ // '/' -> '0': first key past the channel's range
	return lower, upper
}

func (s *PebbleStore) GetWatermark(ctx context.Context, channelID string) (*models.Watermark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wm := models.NewWatermark(channelID)

	_, closer, err := s.db.Get(initKey(channelID))
	switch err {
	case nil:
		wm.Initialized = true
		if err := closer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close value: %w", err)
		}
	case pebble.ErrNotFound:
	default:
		return nil, fmt.Errorf("failed to read channel state: %w", err)
	}

	lower, upper := forwardedPrefix(channelID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		wm.Add(string(iter.Key()[len(lower):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate watermark: %w", err)
	}

	return wm, nil
}

func (s *PebbleStore) CommitForwarded(ctx context.Context, channelID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := []byte(strconv.FormatInt(time.Now().Unix(), 10))
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, id := range ids {
		if err := batch.Set(forwardedKey(channelID, id), now, nil); err != nil {
			return fmt.Errorf("failed to stage forwarded id: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit watermark batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) MarkChannelInitialized(ctx context.Context, channelID string, baselineIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := []byte(strconv.FormatInt(time.Now().Unix(), 10))
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(initKey(channelID), now, nil); err != nil {
		return fmt.Errorf("failed to stage channel marker: %w", err)
	}
	for _, id := range baselineIDs {
		if err := batch.Set(forwardedKey(channelID, id), now, nil); err != nil {
			return fmt.Errorf("failed to stage baseline id: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit init batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) ResetChannel(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lower, upper := forwardedPrefix(channelID)
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return fmt.Errorf("failed to stage range delete: %w", err)
	}
	if err := batch.Delete(initKey(channelID), nil); err != nil {
		return fmt.Errorf("failed to stage marker delete: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit reset batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) CompactWatermarks(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("wm/"),
		UpperBound: []byte("wm0"), // '0' is the byte after '/'
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}

	type entry struct {
		key         string
		forwardedAt int64
	}
	perChannel := make(map[string][]entry)
	maxByChannel := make(map[string]string)

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		rest := key[len("wm/"):]
		// The channel segment is escaped, so the first '/' is the separator
		// and the remainder is the message id verbatim.
		sep := strings.IndexByte(rest, '/')
		if sep < 0 {
			continue
		}
		channel, msgID := rest[:sep], rest[sep+1:]

		at, parseErr := strconv.ParseInt(string(iter.Value()), 10, 64)
		if parseErr != nil {
			at = 0
		}
		perChannel[channel] = append(perChannel[channel], entry{key: key, forwardedAt: at})
		if cur, ok := maxByChannel[channel]; !ok || models.CompareMessageIDs(msgID, cur) > 0 {
			maxByChannel[channel] = msgID
		}
	}
	iterErr := iter.Error()
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to close iterator: %w", err)
	}
	if iterErr != nil {
		return fmt.Errorf("failed to iterate watermarks: %w", iterErr)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for channel, entries := range perChannel {
		// channel is already escaped here; rebuild the key directly.
		keep := "wm/" + channel + "/" + maxByChannel[channel]
		for _, e := range entries {
			if e.key == keep || e.forwardedAt >= cutoff {
				continue
			}
			if err := batch.Delete([]byte(e.key), nil); err != nil {
				return fmt.Errorf("failed to stage compaction delete: %w", err)
			}
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit compaction batch: %w", err)
	}
	return nil
}
