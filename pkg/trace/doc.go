// Package trace parses the output of Firebird server trace and audit
// sessions into typed events.
//
// The parser consumes the log either as a pull stream, via NewParser and
// Next, or line by line in push mode, via NewPushParser, Push and Flush.
// Both modes produce the same element stream: one Event per log entry,
// preceded by the AttachmentInfo, TransactionInfo, ServiceInfo, SQLInfo and
// ParamSet records the entry referenced for the first time. Entities are
// tracked by id for the lifetime reported in the log, so an id reused after
// a detach or commit describes a fresh entity and is reported again.
//
// Entries whose header matches no known event, and recognized entries whose
// body deviates from the expected grammar, are preserved verbatim as
// EventUnknown values rather than failing the parse. Only a failure of the
// underlying line source aborts a session.
package trace
