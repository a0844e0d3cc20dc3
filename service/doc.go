/*
Package service orchestrates the validator-facing protocol cycle on top of a
trust boundary: signing up once, then repeatedly requesting a wait timer for
the current chain position and turning it into a wait certificate when the
timer expires.

The sealed identity is persisted atomically in the data dir so the validator
survives restarts; issued certificates are stored in a local database keyed by
their identifier, linked into a chain through PreviousCertID.
*/
package service
