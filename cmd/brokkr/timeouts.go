package main

import "time"

// Pre-flash protocol exchanges (handshake, PIT transfer, init negotiation)
// run at a small timeout; payload transfer runs at a much larger one, since a
// 1MiB window write can legitimately take longer than a second on a slow
// bus. Mirrors run.cpp's two timeout constants.
const (
	preflashTimeout = time.Second
	flashTimeout    = 45 * time.Second

	preflashRetries = uint(3)
	flashRetries    = uint(1)
)
