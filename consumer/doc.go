// Package consumer implements a kafka consumer session. A session (in my
// nomenclature) consumes a static list of partitions of a single topic,
// starting each partition at a given offset, and merges the records of all
// partitions into a single fetch queue which the user polls.
//
// Set the public fields of a Session, call Start, and call Consume in a loop.
// Consume returns nil message and nil error when there was nothing to return
// within the timeout; that is not an error condition. Call Close when done:
// partition fetch streams are stopped first, then the topic, the queue, and
// the connection are closed, in that order.
//
// Besides records, the fetch queue carries error-flagged messages: fetch
// errors reported by the broker client, and (if the broker client is so
// configured) end of partition markers. What Consume does with these is
// decided by a MessageHandlerFunc. DefaultHandleMessage drops end of
// partition markers and returns fetch errors; StrictHandleMessage returns
// both. Read up on these if you want to implement your own logic.
//
// Aspects of consumption that are not covered: offset storage and retrieval,
// and dynamic partition assignment through consumer group membership.
package consumer
