// opcodes.go: client wire protocol operation codes and response status
//
// Stable numeric identifiers per spec.md Sec. 6, one byte each, in the
// order the spec lists them.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package protocol

// Operation identifies a client-facing wire operation.
type Operation byte

const (
	OpLogin Operation = iota
	OpGetString
	OpSetString
	OpGetList
	OpAddList
	OpRemoveList
	OpContainsList
	OpExists
	OpDelete
	OpGetObjectBinary // wire alias of OpGetBytes, kept for protocol compatibility
	OpSetObjectBinary // wire alias of OpSetBytes, kept for protocol compatibility
	OpGetStats
	OpGetBytes
	OpSetBytes
	OpSetCounter
	OpIncrementCounter
	OpBulk
	OpGetMapValue
	OpSetMapValue
	OpGetMap
	OpSetMap
	OpSubscribe
	OpUnsubscribe
	OpPublish
)

// Status is the 1-byte response status following the request id on every
// response packet.
type Status byte

const (
	StatusOk    Status = 0
	StatusError Status = 1
)

// ProtocolVersion is the fixed Login protocol version spec.md Sec. 4.F
// requires clients to present.
const ProtocolVersion uint32 = 1

// mutatingOps enumerates the operations that mutate cache state and are
// therefore candidates for replication (spec.md Sec. 4.I) once a request
// completes successfully on the leader.
var mutatingOps = map[Operation]bool{
	OpSetString:        true,
	OpSetObjectBinary:   true,
	OpAddList:           true,
	OpRemoveList:        true,
	OpDelete:            true,
	OpSetBytes:          true,
	OpSetCounter:        true,
	OpIncrementCounter:  true,
	OpSetMapValue:       true,
	OpSetMap:            true,
}

// IsMutating reports whether op changes cache state and should be
// considered for replication.
func IsMutating(op Operation) bool { return mutatingOps[op] }

// bulkAllowedOps is the subset of operations the Bulk envelope accepts,
// preserving the source system's partial implementation exactly (spec.md
// Design Notes "Bulk operation partial implementation"): other op codes
// inside a bulk envelope are rejected with an error sub-response.
var bulkAllowedOps = map[Operation]bool{
	OpGetString: true,
	OpSetString: true,
	OpExists:    true,
	OpDelete:    true,
}

// IsBulkAllowed reports whether op may appear inside a Bulk envelope.
func IsBulkAllowed(op Operation) bool { return bulkAllowedOps[op] }
