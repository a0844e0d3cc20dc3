/*
Package registration implements the signup side of the protocol: establishing
a validator identity through the trust boundary and verifying the signup
information other validators publish.

A validator signs up by committing to its originator identity (a hex digest of
its network signing key). The trust boundary generates a fresh identity
keypair, binds it to the commitment inside attestation evidence and hands back
a sealed blob for durable storage. The exportable part travels to peers as a
SignupInfo document; peers verify the evidence and the commitment binding
before accepting certificates from the new key.
*/
package registration
