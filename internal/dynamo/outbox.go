package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pkg/errors"

	"payment-gateway/internal/ledger"
)

// PendingEvents queries the sparse outbox index; only pending events carry
// its key attributes.
func (s *Store) PendingEvents(ctx context.Context, now time.Time, limit int) ([]ledger.Event, error) {
	input := &dynamodb.QueryInput{
		TableName:              s.table,
		IndexName:              aws.String(outboxIndex),
		KeyConditionExpression: aws.String("#outbox = :pending AND #sort < :upper"),
		ExpressionAttributeNames: map[string]string{
			"#outbox": attrOutbox,
			"#sort":   attrOutboxSort,
		},
		ExpressionAttributeValues: item{
			":pending": str(pendingOutbox),
			":upper":   str(fmt.Sprintf("%020d", now.UnixNano()+1)),
		},
		ScanIndexForward: aws.Bool(true),
	}

	var events []ledger.Event
	for {
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit - len(events)))
		}
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "query pending events")
		}
		for _, it := range out.Items {
			event, err := decodeEvent(it)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(events) >= limit) {
			return events, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) UpdateEvents(ctx context.Context, events []ledger.Event) error {
	for _, event := range events {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           s.table,
			Item:                eventItem(event),
			ConditionExpression: aws.String("attribute_exists(pk)"),
		})
		if isConditionalCheckFailed(err) {
			return errors.Wrapf(ledger.ErrNotFound, "event %s", event.ID)
		}
		if err != nil {
			return errors.Wrapf(err, "update event %s", event.ID)
		}
	}
	return nil
}
