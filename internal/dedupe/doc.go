// Package dedupe drops inbound chat messages that a frontend delivers twice,
// keyed by frontend name and message id.
package dedupe
