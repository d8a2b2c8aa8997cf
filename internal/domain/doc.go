// Package domain holds the core data types shared by the API, the send
// workers and the store: companies, message groups, messages, events and
// shortened links, plus the status and method enumerations.
package domain
