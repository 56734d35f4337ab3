package main

import (
	"os"

	"orchd/internal/orchctl"
)

func main() { os.Exit(orchctl.Main()) }
