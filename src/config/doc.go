// Package config defines the configuration for a Weft endpoint.
//
// Regardless of how Weft is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, Weft relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//	priv_key // a plain text file containing the raw private key (cf. weft keygen).
//	weft.toml // (optional) a TOML file overriding configuration options.
package config
