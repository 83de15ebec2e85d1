// Package broker fans job events out to WebSocket subscribers.
//
// Publishers hand encoded envelopes to a Broker under a job id; every
// Subscription for that job receives them in publish order. Memory serves a
// single jobfeed process; Redis spreads events across replicas through
// Redis pub/sub.
package broker
