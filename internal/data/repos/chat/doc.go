// Package chat holds the table repos for threads, messages and votes.
//
// Every method takes a dbctx.Context; when it carries a transaction the call
// joins it, otherwise it runs on the repo's own handle.
package chat
