// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the command and response records exchanged
// between a client conductor and the driver, carried as CBOR payloads
// inside ring buffer and broadcast buffer records.
//
// Each command and response type has its own message type id, used as
// the ring/broadcast record's msgTypeID so the receiving side can pick
// a decode target before looking at the payload.
package wire

// Command message type ids, written as the msgTypeID of a record
// claimed on the to-driver ring buffer.
const (
	MsgTypeAddPublication          int32 = 1
	MsgTypeRemovePublication       int32 = 2
	MsgTypeAddExclusivePublication int32 = 3
	MsgTypeAddSubscription         int32 = 4
	MsgTypeRemoveSubscription      int32 = 5
	MsgTypeClientKeepalive         int32 = 6
)

// Response message type ids, written as the msgTypeID of a record
// transmitted on the to-client broadcast buffer.
const (
	MsgTypeOnOperationSuccess   int32 = 101
	MsgTypeOnError              int32 = 102
	MsgTypeOnAvailableImage     int32 = 103
	MsgTypeOnUnavailableImage   int32 = 104
	MsgTypeOnCounterReady       int32 = 105
	MsgTypeOnCounterUnavailable int32 = 106
)

// AddPublicationCommand requests a new shared (non-exclusive)
// publication on channel/streamID.
type AddPublicationCommand struct {
	ClientID      int64  `cbor:"client_id"`
	CorrelationID int64  `cbor:"correlation_id"`
	Channel       string `cbor:"channel"`
	StreamID      int32  `cbor:"stream_id"`
}

// AddExclusivePublicationCommand requests a publication with no
// session sharing: the driver allocates it a fresh session id rather
// than joining one an existing publication already uses.
type AddExclusivePublicationCommand struct {
	ClientID      int64  `cbor:"client_id"`
	CorrelationID int64  `cbor:"correlation_id"`
	Channel       string `cbor:"channel"`
	StreamID      int32  `cbor:"stream_id"`
}

// RemovePublicationCommand releases a previously registered
// publication, identified by the registration id returned in its
// OnOperationSuccessResponse.
type RemovePublicationCommand struct {
	ClientID       int64 `cbor:"client_id"`
	CorrelationID  int64 `cbor:"correlation_id"`
	RegistrationID int64 `cbor:"registration_id"`
}

// AddSubscriptionCommand requests a subscription on channel/streamID.
type AddSubscriptionCommand struct {
	ClientID      int64  `cbor:"client_id"`
	CorrelationID int64  `cbor:"correlation_id"`
	Channel       string `cbor:"channel"`
	StreamID      int32  `cbor:"stream_id"`
}

// RemoveSubscriptionCommand releases a previously registered
// subscription.
type RemoveSubscriptionCommand struct {
	ClientID       int64 `cbor:"client_id"`
	CorrelationID  int64 `cbor:"correlation_id"`
	RegistrationID int64 `cbor:"registration_id"`
}

// ClientKeepaliveCommand tells the driver this client is still alive.
// Sent once per KeepaliveInterval; the driver treats a client it has
// not heard from within its own client liveness timeout as dead and
// reclaims its resources.
type ClientKeepaliveCommand struct {
	ClientID int64 `cbor:"client_id"`
}

// OnOperationSuccessResponse confirms a registration request
// succeeded, reporting the registration id the caller uses to
// reference the new publication or subscription in later commands and
// to correlate it with its OnAvailableImage/OnCounterReady responses.
type OnOperationSuccessResponse struct {
	CorrelationID  int64 `cbor:"correlation_id"`
	RegistrationID int64 `cbor:"registration_id"`
}

// OnErrorResponse reports that a request identified by CorrelationID
// was rejected.
type OnErrorResponse struct {
	CorrelationID int64  `cbor:"correlation_id"`
	Code          int32  `cbor:"code"`
	Message       string `cbor:"message"`
}

// OnAvailableImageResponse announces that a subscription now has a
// connected image to read from.
type OnAvailableImageResponse struct {
	CorrelationID              int64  `cbor:"correlation_id"`
	SubscriptionRegistrationID int64  `cbor:"subscription_registration_id"`
	SessionID                  int32  `cbor:"session_id"`
	CounterID                  int32  `cbor:"counter_id"`
	SourceIdentity             string `cbor:"source_identity"`
}

// OnUnavailableImageResponse announces that a previously available
// image has gone away.
type OnUnavailableImageResponse struct {
	CorrelationID              int64 `cbor:"correlation_id"`
	SubscriptionRegistrationID int64 `cbor:"subscription_registration_id"`
	SessionID                  int32 `cbor:"session_id"`
}

// OnCounterReadyResponse announces that a counter backing a
// publication or subscription has been allocated and is now readable.
// CorrelationID carries the registration id of the owning publication
// or subscription, not a request correlation id: counter readiness is
// an advisory notification, not a reply to a specific command.
type OnCounterReadyResponse struct {
	CorrelationID int64 `cbor:"correlation_id"`
	CounterID     int32 `cbor:"counter_id"`
}

// OnCounterUnavailableResponse announces that a counter has been
// deallocated and must no longer be read. CorrelationID carries the
// owning registration id, as in OnCounterReadyResponse.
type OnCounterUnavailableResponse struct {
	CorrelationID int64 `cbor:"correlation_id"`
	CounterID     int32 `cbor:"counter_id"`
}
