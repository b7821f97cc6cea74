// Package runverify tracks guess sessions through the assign/load/check
// state machine, records protocol violations from desynchronized clients,
// and archives retained runs as ed25519-signed artifacts.
package runverify
