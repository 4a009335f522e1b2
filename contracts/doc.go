// Package contracts defines the message types exchanged between the queue
// service, the polling consumer, and handlers.
//
// A QueueMessage is a single at-least-once delivery identified by its
// receipt handle. Its body carries an Envelope, the unit of work handlers
// operate on. When a handler fails unexpectedly the delivery is captured as
// a DeadLetterRecord and routed to the dead letter queue.
package contracts
