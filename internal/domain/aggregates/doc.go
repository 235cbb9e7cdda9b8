// Package aggregates defines the write boundaries of the conversation store.
//
// Contracts here carry no persistence details; implementations live in
// internal/data/aggregates and enforce their invariants inside one transaction.
package aggregates
