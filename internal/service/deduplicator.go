package service

import (
	"chanrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// Deduplicator filters candidate records against a channel's watermark,
// returning only unseen records in reader order. Records at or below the
// watermark (reconnection replay, clock skew) are dropped silently.
type Deduplicator struct {
	logger *logrus.Logger
}

func NewDeduplicator(logger *logrus.Logger) *Deduplicator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Deduplicator{logger: logger}
}

// Filter returns the subsequence of records not yet forwarded. Input order is
// preserved; no re-sorting.
func (d *Deduplicator) Filter(wm *models.Watermark, records []models.MessageRecord) []models.MessageRecord {
	if len(records) == 0 {
		return nil
	}

	unseen := make([]models.MessageRecord, 0, len(records))
	dropped := 0
	for _, rec := range records {
		if wm.Contains(rec.MessageID) {
			dropped++
			continue
		}
		unseen = append(unseen, rec)
	}

	if dropped > 0 {
		d.logger.WithFields(logrus.Fields{
			"channel": wm.ChannelID,
			"dropped": dropped,
			"unseen":  len(unseen),
		}).Debug("Dropped already-forwarded records")
	}

	return unseen
}
