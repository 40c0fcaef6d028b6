// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package driverproxy encodes conductor commands onto the to-driver
// command ring buffer.
//
// Every method claims ring space, writes a CBOR-encoded command
// payload, and commits the record, tagging it with the client id this
// proxy was constructed with and a correlation id it mints from the
// ring's own shared counter. Callers use the returned correlation id
// to match a later OnOperationSuccess or OnError response back to
// this request.
package driverproxy

import (
	"github.com/zephyrmq/zephyr-go/lib/codec"
	"github.com/zephyrmq/zephyr-go/ringbuffer"
	"github.com/zephyrmq/zephyr-go/wire"
)

// Proxy writes commands to a driver's to-driver ring buffer on behalf
// of one client id.
type Proxy struct {
	ring     *ringbuffer.ManyToOneRingBuffer
	clientID int64
}

// New returns a proxy that writes to ring, tagging every command with
// clientID.
func New(ring *ringbuffer.ManyToOneRingBuffer, clientID int64) *Proxy {
	return &Proxy{ring: ring, clientID: clientID}
}

func (p *Proxy) write(msgTypeID int32, v any) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return err
	}

	index, err := p.ring.TryClaim(msgTypeID, int32(len(payload)))
	if err != nil {
		return err
	}

	copy(p.ring.ClaimedSpan(index, int32(len(payload))), payload)
	return p.ring.Commit(index)
}

// AddPublication requests a shared publication on channel/streamID and
// returns the correlation id the caller should watch for in the
// OnOperationSuccess/OnError responses.
func (p *Proxy) AddPublication(channel string, streamID int32) (int64, error) {
	correlationID := p.ring.NextCorrelationID()
	err := p.write(wire.MsgTypeAddPublication, wire.AddPublicationCommand{
		ClientID:      p.clientID,
		CorrelationID: correlationID,
		Channel:       channel,
		StreamID:      streamID,
	})
	return correlationID, err
}

// AddExclusivePublication requests a publication the driver will never
// share a session with another publication on the same channel/stream.
func (p *Proxy) AddExclusivePublication(channel string, streamID int32) (int64, error) {
	correlationID := p.ring.NextCorrelationID()
	err := p.write(wire.MsgTypeAddExclusivePublication, wire.AddExclusivePublicationCommand{
		ClientID:      p.clientID,
		CorrelationID: correlationID,
		Channel:       channel,
		StreamID:      streamID,
	})
	return correlationID, err
}

// RemovePublication releases a previously registered publication.
func (p *Proxy) RemovePublication(registrationID int64) (int64, error) {
	correlationID := p.ring.NextCorrelationID()
	err := p.write(wire.MsgTypeRemovePublication, wire.RemovePublicationCommand{
		ClientID:       p.clientID,
		CorrelationID:  correlationID,
		RegistrationID: registrationID,
	})
	return correlationID, err
}

// AddSubscription requests a subscription on channel/streamID.
func (p *Proxy) AddSubscription(channel string, streamID int32) (int64, error) {
	correlationID := p.ring.NextCorrelationID()
	err := p.write(wire.MsgTypeAddSubscription, wire.AddSubscriptionCommand{
		ClientID:      p.clientID,
		CorrelationID: correlationID,
		Channel:       channel,
		StreamID:      streamID,
	})
	return correlationID, err
}

// RemoveSubscription releases a previously registered subscription.
func (p *Proxy) RemoveSubscription(registrationID int64) (int64, error) {
	correlationID := p.ring.NextCorrelationID()
	err := p.write(wire.MsgTypeRemoveSubscription, wire.RemoveSubscriptionCommand{
		ClientID:       p.clientID,
		CorrelationID:  correlationID,
		RegistrationID: registrationID,
	})
	return correlationID, err
}

// ClientKeepalive tells the driver this client is still alive. The
// conductor calls this once per configured keepalive interval.
func (p *Proxy) ClientKeepalive() error {
	return p.write(wire.MsgTypeClientKeepalive, wire.ClientKeepaliveCommand{ClientID: p.clientID})
}
