// Package messaging implements the asynchronous delivery pipeline: a
// polling queue consumer with at-least-once semantics, a dead letter
// router, and a retrying publisher.
//
// The QueueConsumer owns a background fixed-delay poll loop. Each cycle
// performs one bounded long-poll receive and resolves every returned
// message to exactly one terminal action:
//
//   - handler success: the message is deleted from the source queue
//   - handler business failure or unparseable body: the message is left
//     undeleted and redelivered by the queue after its visibility timeout
//   - handler error or panic: a dead letter record is sent to the DLQ and
//     the original message is deleted
//
// Nothing propagates out of the poll loop; a failed cycle is logged and the
// next tick tries again. Delivery is unordered and at least once, so
// handlers must be idempotent.
package messaging
