// Package dispatch is a TCP server which reads a request, waits a fixed
// processing delay, sends a fixed response and closes the connection.
//
// The interesting part is how connections get from the listener to the
// goroutine serving them. A Server runs in one of two modes:
//
//   - ModeMultiplexed: a single loop polls the listener and every accepted
//     connection for readability. A readable listener is drained with
//     nonblocking accepts. A readable connection is removed from the watch set
//     and handed to a new goroutine running the Handler.
//   - ModeBlocking: the loop blocks in accept and hands every connection to a
//     new goroutine right away.
//
// The request boundary is naive: a read returning less than a full chunk, or
// a nonblocking read that would block, ends the request. Requests whose
// length is a multiple of the chunk size are not framed correctly on a
// blocking connection.
//
// Only Linux is supported.
package dispatch
