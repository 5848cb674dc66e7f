// Package server supervises the game server process.
//
// A Supervisor starts the configured command in its own process group with
// piped stdin, stdout and stderr. Console commands are written one line at a
// time with SendLine. Stop sends the stop command and escalates to Kill when
// the server does not exit in time; Kill warns the players, waits a short
// grace period and sends SIGKILL to the process group.
//
// Standard output is read line by line. Every line has to look like
//
//	[12:34:56] [Server thread/INFO]: Done (3.2s)! For help, type "help"
//
// and is handed to OnLine with a full timestamp. The first line of any other
// shape ends parsing for that process; later output is discarded.
// Classify recognises the EULA refusal and chat lines in the text part.
package server
