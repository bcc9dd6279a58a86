package core

import "errors"

// Protocol error taxonomy.  Handlers return these (optionally wrapped with
// fmt.Errorf("...: %w")) and the transport surfaces err.Error() as the wire
// message, so the strings here are protocol-visible and must stay stable.
var (
	// ErrInvalidDescriptor rejects contracts that fail schema validation or
	// requests carrying a malformed shard hash.
	ErrInvalidDescriptor = errors.New("Invalid shard descriptor")

	// ErrInvalidSignature rejects contracts whose signature does not verify
	// or whose recovered key does not match the claimed party id.
	ErrInvalidSignature = errors.New("Invalid contract signature")

	// ErrIncompleteContract rejects contracts still missing fields after the
	// countersign step.
	ErrIncompleteContract = errors.New("Contract is incomplete")

	// ErrOffersClosed is returned when no offer stream is registered for the
	// contract's data hash.
	ErrOffersClosed = errors.New("Offers for descriptor are closed")

	// ErrOfferRejected is delivered through the offer completion callback
	// when an offer cannot be enqueued (duplicate farmer, full queue,
	// destroyed stream).
	ErrOfferRejected = errors.New("Storage offer rejected")

	// ErrContractExpired rejects CONSIGN outside the contract time window.
	// Stored state is left untouched.
	ErrContractExpired = errors.New("Consignment violates contract store time")

	// ErrNotAuthorized rejects CONSIGN from a peer with no prior contract for
	// the shard.
	ErrNotAuthorized = errors.New("Not authorized to consign")

	// ErrNoContract rejects MIRROR requests without an established contract.
	ErrNoContract = errors.New("No contract found for shard hash")

	// ErrShardNotFound rejects RETRIEVE for hashes with no readable shard.
	ErrShardNotFound = errors.New("Shard data not found")

	// ErrHashMismatch aborts uploads whose bytes do not hash to the declared
	// shard hash.  The partial shard is rolled back.
	ErrHashMismatch = errors.New("Calculated hash does not match the expected result")

	// ErrProofGeneration indicates the challenge response leaf is not part
	// of the recorded audit tree.  Inside an AUDIT batch it degrades to a
	// null proof instead of failing the batch.
	ErrProofGeneration = errors.New("Failed to generate proof")

	// ErrTimeout is returned to callers when an outbound request deadline
	// expires.  The remote side may still complete without harm.
	ErrTimeout = errors.New("Request timed out")

	// ErrProbeFailed means the requester's stated contact did not answer a
	// reverse PING and is therefore not publicly addressable.
	ErrProbeFailed = errors.New("Probe failed, you are not addressable")

	// ErrRestrictedRenewal rejects renewals touching immutable fields.
	ErrRestrictedRenewal = errors.New("Renewal attempts to change restricted fields")

	// ErrStreamDestroyed is returned by offer stream reads after Destroy.
	ErrStreamDestroyed = errors.New("Offer stream destroyed")

	// ErrTokenInvalid covers unknown, expired or already-active transfer
	// tokens at the shard server.
	ErrTokenInvalid = errors.New("The supplied token is not accepted")
)
