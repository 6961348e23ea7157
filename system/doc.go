/*
Package system manages the startup, running, metrics and shutdown of a Go
service.

Most services run a bunch of things in the background (servers, health
checks, metrics and worker loops) and need to shut down cleanly when told to.
This package rolls all that up in an easy to consume form.
*/
package system
