// Command schema writes the JSON schema of behavior documents.
package main

import (
	"flag"
	"log"

	"github.com/eraflo/FallGuys/internal/behavior/authoring"
)

func main() {
	out := flag.String("out", "schema/behavior.schema.json", "output path")
	flag.Parse()

	if err := authoring.WriteSchema(*out); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("wrote %s", *out)
}
