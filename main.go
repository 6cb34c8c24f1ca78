package main

import (
	"fmt"
	"os"

	"github.com/jghoshh/ritmo/backend"
	"github.com/jghoshh/ritmo/frontend"
)

func usage() {
	fmt.Println("usage: ritmo <command>")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  server   run the backend: API, scheduler and notification workers")
	fmt.Println("  shell    run the interactive habit tracker shell")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "server":
		backend.RunBackend()
	case "shell":
		frontend.RunFrontend()
	default:
		fmt.Printf("unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
