// Package eventbus is the publish/subscribe boundary between the order API
// and its downstream consumers. Messages travel as self-describing envelopes
// on a topic exchange; delivery is at-least-once, so every consumer must be
// idempotent.
package eventbus

import (
	"context"
	"strings"
)

// Topology names shared by every service on the bus. Changing any of these is
// a cross-service breaking change.
const (
	Exchange           = "bytebites-exchange"
	ExchangeDeadLetter = "bytebites-exchange.dlx"

	QueueNotifications = "notification.queue"
	QueueRestaurant    = "restaurant.queue"
	QueueDeadLetter    = "bytebites.dlq"
)

// Delivery is one received message. Attempt starts at 1 and increments on
// each redelivery of the same envelope.
type Delivery struct {
	Envelope    Envelope
	Attempt     int
	Redelivered bool
}

// Handler processes one delivery. A non-nil error triggers the bus's
// redelivery policy; after the retry cap the message is dead-lettered.
type Handler func(ctx context.Context, d Delivery) error

// Publisher is the producing half of the bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// MatchTopic reports whether an AMQP-style binding pattern matches a dotted
// routing key: "*" matches exactly one word, "#" matches zero or more.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pattern[0] != key[0] {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}
