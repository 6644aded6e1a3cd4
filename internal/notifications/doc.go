// Package notifications delivers controller events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Individual events
// can be switched off in the [notifications] section.
package notifications
