// livekit serves GraphQL queries, live queries and subscriptions over
// WebSocket.
//
//	livekit serve --addr :8080
//	livekit query --name ada 'query @live { noteCount }'
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
