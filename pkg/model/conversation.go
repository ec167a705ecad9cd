// Package model defines the typed records stored in the directory store.
// Each record keeps its ETag as a struct field so optimistic updates can
// carry it back as an If-Match header.
package model

import "time"

// Direction indicates whether a conversation row travels user-to-system or
// system-to-user.
type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
)

// ConversationStatus represents the lifecycle of a conversation row.
type ConversationStatus string

const (
	ConversationUnclaimed ConversationStatus = "Unclaimed"
	ConversationClaimed   ConversationStatus = "Claimed"
	ConversationProcessed ConversationStatus = "Processed"
	ConversationDelivered ConversationStatus = "Delivered"
	ConversationExpired   ConversationStatus = "Expired"
)

// Conversation is the bus row between the chat relay and the managers.
type Conversation struct {
	ID                     string             `json:"id"`
	UserEmail              string             `json:"user_email"`
	ExternalConversationID string             `json:"external_conversation_id"`
	Message                string             `json:"message"`
	Direction              Direction          `json:"direction"`
	Status                 ConversationStatus `json:"status"`
	ClaimedBy              string             `json:"claimed_by,omitempty"`
	InReplyTo              string             `json:"in_reply_to,omitempty"`
	FollowupExpected       bool               `json:"followup_expected"`
	CreatedAt              time.Time          `json:"created_at"`

	// ETag is the opaque row version from the store; never serialized as a column.
	ETag string `json:"-"`
}

// Terminal reports whether the row can no longer be mutated.
func (c *Conversation) Terminal() bool {
	switch c.Status {
	case ConversationProcessed, ConversationDelivered, ConversationExpired:
		return true
	}
	return false
}
