// Command gen-token prints a token the dashboard accepts when it runs with
// TOKEN_SECRET, for calling the API with an Authorization header.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"dashboard/session"
)

func main() {
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: gen-token [-ttl 1h] <username>")
	}
	tok, err := session.Sign([]byte(os.Getenv("TOKEN_SECRET")), flag.Arg(0), *ttl)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(tok)
}
