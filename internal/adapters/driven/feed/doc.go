// Package feed holds the handler registry shared by the ChangeFeed
// adapters in its sub-packages:
//
//   - memory: in-process publish/subscribe
//   - websocket: one push connection to the remote service
//   - fswatch: file-system changes under a root directory
package feed
