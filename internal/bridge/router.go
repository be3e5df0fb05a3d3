package bridge

import (
	"encoding/json"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/channel"
)

// Caller is the originator of API calls and the recipient of pushes for the
// subscriptions it started.
type Caller interface {
	ID() string
	Notify(payload json.RawMessage) error
}

// NotificationRouter delivers value-changed pushes to the caller that started
// the subscription. Registrations live for the lifetime of the router; there
// is no unsubscribe.
type NotificationRouter struct {
	subs    *hashmap.Map[string, Caller]
	logger  *logrus.Logger
	metrics *Metrics
}

// NewNotificationRouter creates an empty router.
func NewNotificationRouter(logger *logrus.Logger, metrics *Metrics) *NotificationRouter {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationRouter{
		subs:    hashmap.New[string, Caller](),
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe routes pushes carrying token to owner. A later Subscribe with
// the same token replaces the owner.
func (r *NotificationRouter) Subscribe(token string, owner Caller) {
	r.subs.Set(token, owner)
	r.metrics.setSubscriptions(r.subs.Len())
	r.logger.WithFields(logrus.Fields{
		"subscription": token,
		"caller":       owner.ID(),
	}).Debug("Subscription registered")
}

// Owner returns the caller registered for token.
func (r *NotificationRouter) Owner(token string) (Caller, bool) {
	return r.subs.Get(token)
}

// Route forwards payload to the owner of token. It returns false when the
// token is unknown or delivery failed.
func (r *NotificationRouter) Route(token string, payload json.RawMessage) bool {
	owner, ok := r.subs.Get(token)
	if !ok {
		r.logger.WithField("subscription", token).Debug("Dropping notification for unknown subscription")
		return false
	}

	if err := owner.Notify(payload); err != nil {
		r.logger.WithFields(logrus.Fields{
			"subscription": token,
			"caller":       owner.ID(),
		}).WithError(err).Warn("Failed to deliver notification")
		return false
	}
	return true
}

// Len returns the number of registered subscriptions.
func (r *NotificationRouter) Len() int {
	return r.subs.Len()
}

// Accept implements Sink for value-changed notifications. The native message
// is forwarded verbatim.
func (r *NotificationRouter) Accept(msg channel.Message) {
	r.Route(msg.SubscriptionToken(), msg.Raw)
}
