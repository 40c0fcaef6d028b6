// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the client's standard CBOR encoding
// configuration.
//
// Every record that crosses the CnC file — a command a client writes
// onto the to-driver ring, or a response the driver writes onto the
// to-client broadcast — is a CBOR value. This package provides the
// shared encoding and decoding modes so every record is encoded
// identically regardless of which package produces it. The encoder
// uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. Same logical
// data always produces identical bytes, which is what makes a
// diagnostics snapshot byte-for-byte reproducible.
//
// For buffer-oriented operations (ring buffer claims, broadcast
// slots):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
