// Package broadcast defines the port for fanning stored alarms out to live subscribers.
package broadcast

import "github.com/Strob0t/AlarmRelay/internal/domain/alarm"

// Subscription is one subscriber's view of the live alarm feed.
type Subscription interface {
	// Events delivers published alarms in publish order.
	Events() <-chan alarm.Event

	// Done is closed once the subscription has been removed, either by
	// Unsubscribe, by falling behind, or by broadcaster shutdown.
	Done() <-chan struct{}
}

// Broadcaster delivers published alarms to every active subscription.
type Broadcaster interface {
	// Subscribe registers a new subscription.
	Subscribe() Subscription

	// Unsubscribe removes a subscription. Unknown or already removed
	// subscriptions are ignored.
	Unsubscribe(s Subscription)

	// Publish hands ev to every active subscription without blocking.
	Publish(ev alarm.Event)

	// Count returns the number of active subscriptions.
	Count() int

	// Close ends every subscription and rejects new ones.
	Close()
}
