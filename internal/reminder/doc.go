// Package reminder delivers one-off and recurring reminders.
//
// One-off reminders are durable: Set pushes a Job onto the "reminder"
// delay queue, and a consumer leases due jobs and hands them to the
// reminder actor, archiving each only after the actor accepted it. A job
// whose delivery fails reappears after the visibility timeout.
//
// Recurring reminders come from configuration as cron expressions and are
// kept in memory only.
package reminder
