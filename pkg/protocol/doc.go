// Package protocol defines the wire types spoken by the structured-protocol
// adapter: JSON-RPC 2.0 envelopes and the subset of Language Server Protocol
// payloads the host understands.
//
// # Message Flow
//
//  1. Editor sends initialize with the workspace root, its process id and a trace level
//  2. Host composes its capabilities and answers with InitializeResult
//  3. Editor sends initialized and starts document synchronisation
//  4. Editor sends shutdown followed by exit
//
// Any request other than initialize that arrives before step 2 completes is
// answered with ServerNotInitialized (-32002).
package protocol
