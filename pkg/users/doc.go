// Package users implements account administration: listing, creating,
// updating and deleting users and granting or revoking their roles. Every
// change is appended to the audit log with its before and after values.
package users
