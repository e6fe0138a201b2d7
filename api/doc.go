// Package api defines the request and response types of the catalogflow
// HTTP API.
//
// # API Overview
//
// catalogflow exposes a RESTful API for:
//   - Federated queries across the registered catalog sources
//   - Local-only queries, used by peer nodes through the remote source
//   - Streaming queries over websocket
//   - Source descriptors with live availability
//   - Metacard ingest into the local store
//   - Health monitoring and metrics
//
// # Authentication
//
// Most API endpoints require authentication via the X-API-Key header or a
// bearer JWT when one is configured:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
