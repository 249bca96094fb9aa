// Package permission gates application features by the role of the current
// session.
//
// Manager listens to the authenticator's state transitions. Each transition
// starts a new epoch: the decision cache is cleared and the role is
// recomputed from the raw server role. Unsubscribed users are denied every
// feature, admins are allowed every feature, and everyone else is looked up
// in a role.FeatureMap.
package permission
