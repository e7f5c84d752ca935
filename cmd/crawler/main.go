// Command crawler runs the Bitcoin-derived P2P network crawler.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/RaxTzu/AtlasP2P/cli/crawl"
)

func main() {
	app := cli.NewApp()
	app.Name = "crawler"
	app.Usage = "crawl a Bitcoin-derived P2P network and classify its peers"
	app.Version = "0.1.0"
	app.Commands = crawl.NewCommands()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
