// Package stream provides DynamoDB Streams handlers for the dynamo backend.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/xmlvault/backend/dynamo"
)

// DefaultRetention is how long a deleted version is kept before DynamoDB
// may remove it.
const DefaultRetention = 7 * 24 * time.Hour

// Expirer schedules removal of a deleted version item.
// *dynamo.Backend implements it.
type Expirer interface {
	ScheduleExpiry(ctx context.Context, key map[string]types.AttributeValue, ttl int64) error
}

// Handler processes DynamoDB stream events for version retention.
type Handler struct {
	expirer   Expirer
	retention time.Duration
	logger    *slog.Logger
}

// NewHandler creates a new stream handler. A non-positive retention uses
// DefaultRetention.
func NewHandler(expirer Expirer, retention time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Handler{
		expirer:   expirer,
		retention: retention,
		logger:    logger,
	}
}

// HandleVersionRetention sets a TTL on every version item that was just
// deleted, so that undelete stays possible for the retention period.
// Pass it to lambda.Start. Processing stops at the first failing record so
// that the batch is redelivered.
func (h *Handler) HandleVersionRetention(ctx context.Context, event events.DynamoDBEvent) error {
	for i, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("version retention failed",
				"eventID", record.EventID,
				"record", i,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// processRecord handles one record: a version item whose deleted_at just
// appeared and that has no TTL yet.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeModify) {
		return nil
	}
	if !strings.HasPrefix(imageString(record.Change.Keys, "sk"), "v#") {
		return nil
	}

	oldDeleted := imageString(record.Change.OldImage, "deleted_at")
	newDeleted := imageString(record.Change.NewImage, "deleted_at")
	if oldDeleted != "" || newDeleted == "" {
		return nil
	}
	if imageNumber(record.Change.NewImage, "ttl") != 0 {
		return nil
	}

	deletedAt, err := time.Parse(time.RFC3339, newDeleted)
	if err != nil {
		h.logger.Warn("unparseable deleted_at, using event time",
			"eventID", record.EventID,
			"deleted_at", newDeleted,
		)
		deletedAt = record.Change.ApproximateCreationDateTime.Time
	}
	ttl := dynamo.ExpiryFor(deletedAt, h.retention)

	h.logger.Info("scheduling version expiry",
		"path", imageString(record.Change.NewImage, "path"),
		"mount", imageString(record.Change.NewImage, "mount"),
		"version", imageNumber(record.Change.NewImage, "version"),
		"ttl", ttl,
	)

	if err := h.expirer.ScheduleExpiry(ctx, ConvertStreamKey(record.Change.Keys), ttl); err != nil {
		return fmt.Errorf("schedule expiry: %w", err)
	}
	return nil
}

// imageString returns a string attribute of a stream image, or "".
func imageString(image map[string]events.DynamoDBAttributeValue, name string) string {
	attr, ok := image[name]
	if !ok || attr.DataType() != events.DataTypeString {
		return ""
	}
	return attr.String()
}

// imageNumber returns an integer attribute of a stream image, or 0.
func imageNumber(image map[string]events.DynamoDBAttributeValue, name string) int64 {
	attr, ok := image[name]
	if !ok || attr.DataType() != events.DataTypeNumber {
		return 0
	}
	n, err := strconv.ParseInt(attr.Number(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ConvertStreamKey turns the key of a stream record into the key form the
// SDK expects. Attribute types other than S, N and B are dropped.
func ConvertStreamKey(keys map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, len(keys))
	for name, attr := range keys {
		switch attr.DataType() {
		case events.DataTypeString:
			key[name] = &types.AttributeValueMemberS{Value: attr.String()}
		case events.DataTypeNumber:
			key[name] = &types.AttributeValueMemberN{Value: attr.Number()}
		case events.DataTypeBinary:
			key[name] = &types.AttributeValueMemberB{Value: attr.Binary()}
		}
	}
	return key
}
