package main

import (
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	mbp "go.gazette.dev/core/mainboilerplate"
)

const iniFilename = "ragline.ini"

func main() {
	// Load a .env file if present, as the compose development environment does.
	_ = godotenv.Load()

	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "seed", "Seed sample documents into Postgres", `
Create the documents table if it doesn't exist, and insert a small set of
sample documents. Documents are inserted under fixed identifiers and
skipped if they already exist, so seeding is safe to repeat.
`, &cmdSeed{})

	dlq, err := parser.Command.AddCommand("dlq", "Inspect and replay dead-letter events", "", &struct{}{})
	mbp.Must(err, "failed to add command")

	addCmd(dlq, "list", "List events on the dead-letter topic", `
Read envelopes from the dead-letter topic and print each failed event
along with its error and source partition and offset.
`, &cmdDLQList{})

	addCmd(dlq, "replay", "Replay dead-letter events through the update service", `
Read envelopes from the dead-letter topic and POST each original event to
the update service's /process-event endpoint. Events which fail again are
reported but don't stop the replay.
`, &cmdDLQReplay{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	mbp.Must(err, "failed to add flags parser command")
	return cmd
}
