// Package dedupe drops chat events that were already handled within a
// time window, so a re-delivered user message does not start a second
// response.
package dedupe
