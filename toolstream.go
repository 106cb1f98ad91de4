// Copyright 2025 The Go ToolStream Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolstream provides the value types shared by the streaming tool
// orchestration subsystem: the message model emitted by running streams, the
// stream lifecycle state machine, and the descriptors for registered
// streaming operations.
//
// The package has no behavior of its own beyond construction helpers and
// validation; the lifecycle logic lives in the manager package and the
// protocol-facing surface in the adapter package.
package toolstream

// Version is the current version of the toolstream module.
const Version = "0.1.0"

// MetadataStreamID is the metadata key under which the owning stream id is
// stamped into every message re-broadcast by the stream manager.
const MetadataStreamID = "streamId"
