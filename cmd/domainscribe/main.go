// Command domainscribe records domain-expert interviews, transcribes them
// locally, and turns the transcript into a documented domain model.
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(execute())
}
