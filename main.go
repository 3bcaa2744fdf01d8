package main

import (
	"os"

	"github.com/blacktop/comicpost/cmd"
	"github.com/blacktop/comicpost/internal/logutil"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logutil.Errorf("%v", err)
		os.Exit(1)
	}
}
