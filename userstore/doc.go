// Package userstore holds the bundled authcore.UserProvider implementations.
// memory keeps accounts in process; sqlite persists them with embedded
// migrations. storetest is the shared behaviour suite both run.
package userstore
