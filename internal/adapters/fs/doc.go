// Package fs holds file-backed endpoint sources: an address list file
// that is watched for edits, and a cache of the last resolved endpoints
// that survives restarts.
package fs
