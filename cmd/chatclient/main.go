// Command chatclient connects to a chatserver, printing every message it
// receives and sending each line typed on stdin.
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

var (
	fAddr = flag.String("addr", "127.0.0.1:8080", "Server address, host:port.")
	fName = flag.String("name", "", "Name to announce to the server.")
)

func main() {
	flag.Parse()
	if *fName == "" {
		log.Fatalf("chatclient: --name is required")
	}

	client := chat.NewClient()
	if err := client.Connect(*fAddr); err != nil {
		log.Fatalf("chatclient: connect: %v", err)
	}
	defer client.Close()

	if err := client.Feed([]byte(*fName)); err != nil {
		log.Fatalf("chatclient: announcing name: %v", err)
	}

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case line := <-lines:
			if err := client.Feed([]byte(line)); err != nil {
				log.Printf("chatclient: feed: %v", err)
			}
		default:
		}

		err := client.Update(100 * time.Millisecond)
		if err != nil && err != chat.ErrTimeout {
			log.Fatalf("chatclient: update: %v", err)
		}

		for {
			msg, ok := client.PopNext()
			if !ok {
				break
			}
			fmt.Printf("%s: %s\n", msg.Author, msg.Data)
		}
	}
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
