// Package bootstrap runs a process through a fixed lifecycle:
//
//  1. start registered infrastructure components
//  2. OnStart hooks
//  3. OnConfigure callbacks, which build the business layer and may
//     register more components
//  4. start components registered during configure
//  5. ready check and OnReady hooks
//  6. wait for a signal (Run) or the task to return (RunTask)
//  7. OnStop hooks, then stop components in reverse order
//
// A startup failure stops whatever was already started.
package bootstrap
