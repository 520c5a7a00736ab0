// Package main hosts the i4c3d CLI.
//
// `i4c3d run` starts a session: the gesture engine, the sensor endpoint, the
// voice listeners and the status server. The remaining commands are small
// clients of a running session (status, mode, connect, replay) and
// configuration scaffolding.
package main
