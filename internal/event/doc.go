// Package event defines the docflow event envelope and its closed set of
// typed payloads.
//
// Envelopes travel as JSON:
//
//	{"id":"…","eventType":"DocumentIndexed","submissionId":"S1",
//	 "documentRef":"D1","timestamp":"2026-01-02T03:04:05.000Z","data":{…}}
//
// Decode validates the envelope and decodes data into the payload type that
// matches eventType, so handlers switch on Payload rather than on maps.
package event
