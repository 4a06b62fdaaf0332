/**
 * @description
 * This is the main entry point for the job4meal binary. It preloads an optional .env
 * file and hands control to the cobra command tree, which owns configuration, store
 * selection and the HTTP server.
 *
 * @dependencies
 * - github.com/joho/godotenv: .env preloading for local development.
 * - internal/cli: the serve, seed, report and reconcile commands.
 */

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/Aayu095/Job4Meal/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("level=warn component=bootstrap msg=\"failed to load .env file\" err=%v", err)
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
