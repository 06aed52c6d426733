// Command sysh is a pipeline shell: it reads lines from stdin and executes
// each one as a shell.CommandLine, mirroring the behavior of the coursework
// shell this package generalizes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/sysprog/shell"
)

func main() {
	ex := shell.NewExecutor()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	ctx := context.Background()
	exitCode := 0

	for scanner.Scan() {
		cl, err := shell.Parse(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "sysh: %v\n", err)
			continue
		}

		code, shouldExit, err := ex.Run(ctx, cl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sysh: %v\n", err)
			continue
		}
		exitCode = code
		if shouldExit {
			os.Exit(exitCode)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("sysh: reading stdin: %v", err)
	}
	os.Exit(exitCode)
}
