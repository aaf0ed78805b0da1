package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/ragline/ragline/config"
	"github.com/ragline/ragline/runtime"
)

const iniFilename = "ragline.ini"

// Config is the top-level configuration object of the query service.
var Config = new(struct {
	OpenAI   config.OpenAI   `group:"OpenAI" namespace:"openai"`
	Qdrant   config.Qdrant   `group:"Qdrant" namespace:"qdrant"`
	Redis    config.Redis    `group:"Redis" namespace:"redis"`
	Service  config.Service  `group:"Service" namespace:"service"`
	Pipeline config.Pipeline `group:"Pipeline" namespace:"pipeline"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("query service configuration")

	mbp.Must(Config.OpenAI.Validate(), "invalid OpenAI configuration")

	var app, err = runtime.NewQuery(runtime.QueryConfig{
		OpenAI:   Config.OpenAI,
		Qdrant:   Config.Qdrant,
		Redis:    Config.Redis,
		Service:  Config.Service,
		Pipeline: Config.Pipeline,
	})
	mbp.Must(err, "building query service")

	var tasks = task.NewGroup(context.Background())
	mbp.Must(app.Container.Connect(tasks.Context()), "connecting query service dependencies")
	defer app.Container.Close()

	app.QueueTasks(tasks)

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})

	log.WithFields(log.Fields{
		"service": Config.Service.Name,
		"port":    Config.Service.Port,
	}).Info("starting query service")
	tasks.GoRun()

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "query service task failed")
	log.Info("goodbye")

	return nil
}

func main() {
	_ = godotenv.Load()

	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as the query service", `
Answer retrieval-augmented queries over the indexed documents, until
signaled to exit (via SIGTERM).
`, &cmdServe{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
