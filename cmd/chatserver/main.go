// Command chatserver runs a chat.Server on a fixed port, printing every
// relayed message to stdout and relaying lines typed on its own stdin as
// "server"-authored broadcasts.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jacobsa/sysprog/chat"
)

var fPort = flag.Int("port", 8080, "TCP port to listen on.")

func main() {
	flag.Parse()

	server := chat.New()
	if err := server.Listen(*fPort); err != nil {
		log.Fatalf("chatserver: listen: %v", err)
	}
	defer server.Close()

	log.Printf("chatserver: listening on port %d", *fPort)

	feed := make(chan string)
	go readFeedLines(feed)

	for {
		select {
		case line := <-feed:
			if err := server.Feed([]byte(line)); err != nil {
				log.Printf("chatserver: feed: %v", err)
			}
		default:
		}

		err := server.Update(100 * time.Millisecond)
		if err != nil && err != chat.ErrTimeout {
			log.Fatalf("chatserver: update: %v", err)
		}

		for {
			msg, ok := server.PopNext()
			if !ok {
				break
			}
			fmt.Printf("%s: %s\n", msg.Author, msg.Data)
		}
	}
}

func readFeedLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
