// Package application wires resolved settings into running components: error
// reporting, the database, redirects, mail, the task queue, static assets,
// the HTTP router and the server. main stays focused on CLI parsing and
// process lifecycle.
package application
