package models

import (
	"time"
)

// RawMessageKey wraps payloads that are not valid JSON.
const RawMessageKey = "rawMessage"

// IntakeDocument is an inbound queue message as stored in the document store.
// Body is the message exactly as received; MessageData is its parsed form, or
// {"rawMessage": Body} when Raw is set.
type IntakeDocument struct {
	ID           string    `json:"id" bson:"_id"`
	PartitionKey string    `json:"partitionKey" bson:"partition_key"`
	MessageID    string    `json:"messageId" bson:"message_id"`
	Body         string    `json:"body" bson:"body"`
	MessageData  any       `json:"messageData" bson:"message_data"`
	Raw          bool      `json:"raw" bson:"raw"`
	ReceivedAt   time.Time `json:"receivedTimestamp" bson:"received_at"`
}
