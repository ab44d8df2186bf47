// Package domain defines the core domain models for Cypress: transaction
// identifiers and records, ACL values, node state, and the structured
// error vocabulary shared across the persistence engine.
package domain
