// Package archive groups the snapshot stores that keep the rendered HTML of each
// run. Every store implements PutObject(ctx, path, contentType, r) and returns a
// URI for the written object: memory:// for tests, file:// for the local
// filesystem, and gs:// for Google Cloud Storage.
package archive
