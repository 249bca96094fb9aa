// Package events provides the process-wide publish/subscribe hub for
// authentication notifications.
//
// # Subscribing
//
// Two delivery styles are offered:
//
//   - Subscribe(handler, types...): the handler runs synchronously inside
//     Publish. Handlers registered for the same event type fire in
//     registration order. Passing no types subscribes to every event.
//   - SubscribeChan(ctx, types...): events are delivered on a buffered channel.
//     Delivery never blocks the publisher; events are dropped for a subscriber
//     whose buffer is full. The subscription ends when ctx is cancelled.
//
// # Event Types
//
//   - auth.login_success / auth.login_failed
//   - auth.logout
//   - auth.token_refreshed
//   - auth.token_expired: forced logout, "session expired, please log in again"
//   - auth.error: any other classified failure
//   - auth.state_changed: a new AuthState epoch began
//   - permission.changed: the derived role changed
//
// Payloads are carried in Event.Detail; the auth and permission packages define
// their concrete types.
package events
