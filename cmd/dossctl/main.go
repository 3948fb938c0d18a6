// dossctl calls a running doss server.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/seantiz/doss/internal/client"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("dossctl"),
		kong.Description("Call the DossDataStore and BenchmarkPipeline handlers of a doss server."),
		kong.UsageOnError(),
	)

	g := &Globals{
		Client: client.New(cli.Server, client.WithHTTPClient(&http.Client{Timeout: cli.Timeout})),
		Out:    os.Stdout,
	}
	ctx.FatalIfErrorf(ctx.Run(g))
}

// CLI is the command tree.
type CLI struct {
	Server  string        `short:"s" help:"Server base URL." default:"http://localhost:8080" env:"DOSS_SERVER"`
	Timeout time.Duration `help:"HTTP request timeout." default:"10m"`

	Get     GetCmd     `cmd:"" help:"Read a result slot of a data store object."`
	Set     SetCmd     `cmd:"" help:"Write a result slot of a data store object."`
	Cleanup CleanupCmd `cmd:"" help:"Remove every slot of a data store object."`
	Bench   BenchCmd   `cmd:"" help:"Run the benchmark pipeline."`

	Invocation InvocationCmd `cmd:"" help:"Show an invocation record."`
	Resume     ResumeCmd     `cmd:"" help:"Resume an interrupted invocation."`
	Journal    JournalCmd    `cmd:"" help:"List the recorded actions of an invocation."`
}
