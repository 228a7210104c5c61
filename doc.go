// Package asyncrpc is the shared root of an asynchronous I/O runtime and a
// typed, transport-pluggable RPC framework.
//
// The subpackages layer as follows, leaves first:
//
//   - reactor: poll-driven descriptor multiplexer, timers and an event loop
//   - iodev: byte-stream devices (pipes, files, std descriptors) with
//     uniform synchronous and asynchronous read/write semantics
//   - sinfo: the dynamically typed value tree every codec and every RPC
//     argument travels through
//   - codec, codec/bin, codec/jsonc, codec/xmlc, codec/props: formatter and
//     streaming-parser pairs between sinfo trees and encoded bytes
//   - rpc, rpc/binrpc, rpc/jsonrpc, rpc/xmlrpc: remote procedures, the
//     service registry and the concrete transports
//
// This package itself only carries the error taxonomy those layers share.
package asyncrpc
