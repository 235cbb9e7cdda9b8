// Package aggregates implements the domain aggregate contracts on top of the
// table repos in internal/data/repos.
//
// Aggregates own the transaction boundary of every write: a conversation
// mutation either lands completely (messages, votes, thread bookkeeping) or
// not at all.
package aggregates
