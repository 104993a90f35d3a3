// Package connection implements the realtime connection multiplexer.
//
// A single Conn owns one WebSocket to the unified realtime endpoint and:
//   - drives connect → authenticate → open → close → reconnect transitions
//     with exponential backoff and a permanent-failure ceiling
//   - multiplexes any number of local subscribers onto named channels,
//     announcing each distinct (channel, context) pair to the server once
//   - queues outbound messages while disconnected and flushes them FIFO
//     when the socket reopens
//   - broadcasts status snapshots to registered listeners
package connection
