// Package server hosts the Fiber HTTP access point in front of content.Manager.
// It only translates requests into pipeline operations and maps error kinds to
// status codes; resolution, caching and invalidation live in the content package.
// Diagnostics routes under /-/ are registered separately by the routes package.
package server
