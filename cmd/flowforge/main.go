// Command flowforge serves, runs and inspects workflow graphs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	if err := dispatch(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "flowforge:", err)
		}
		os.Exit(1)
	}
}

func dispatch(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return flag.ErrHelp
	}
	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "mcp":
		return runMCP(args[1:])
	case "run":
		return runRun(args[1:])
	case "version", "--version", "-v":
		printVersion(stdout)
		return nil
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	}
	usage(stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: flowforge <command> [flags]

commands:
  serve     start the HTTP API (REST, SSE, WebSocket, /metrics)
  mcp       serve the MCP tools over stdio
  run       simulate a graph file offline and print its log
  version   print the version

settings: ~/.flowforge/settings.json, overridden by FLOWFORGE_* env vars and flags
`)
}
