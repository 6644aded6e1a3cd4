// Package daemonctl starts, stops and inspects the background daemon on behalf
// of the CLI. The daemon is found through its IPC socket; the pid file is only
// consulted when a stop request is ignored.
package daemonctl
