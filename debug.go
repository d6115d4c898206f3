package xdelta

import "log"

// enable debug printing
const debug = false

// print every instruction the encoder chooses
const debugMatches = false

func debugf(format string, a ...interface{}) {
	if debug {
		log.Printf(format, a...)
	}
}
