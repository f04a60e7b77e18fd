// Package models acquires, verifies and hands out the VirusNet model files.
//
// The artifacts the tool needs are listed in models.json, installed next to
// the executable at <installRoot>/bin/models.json. Each entry names a source
// URL and the SHA-256 digest of the file:
//
//	{"binary_model": {"url": "https://.../model_binary.h5", "hash": "<64 hex>"}}
//
// An artifact lives at <targetDir>/<basename of its URL> and is in one of
// three states: absent, verified or corrupt.
//
// The package serves two use cases:
//
//  1. Programmatic API via the Manager interface. EnsureAll downloads every
//     artifact that is not verified, CheckAll and Status report the local
//     state without touching the network, and RequireArtifacts gates any
//     consumer on every artifact being verified.
//
//  2. The virusnet CLI via NewCommand, with "download", "predict" and
//     "status" subcommands.
//
// # Content Verification
//
// Every download is verified against the manifest digest before it is
// reported as usable. A mismatch fails the whole run with ErrIntegrity; it is
// never retried automatically and never accepted.
//
// # Environment
//
// EnsureAll and RequireArtifacts return the artifact paths keyed by manifest
// key. PublishEnvironment exports them as VIRUSNET_<KEY> for child processes.
package models
