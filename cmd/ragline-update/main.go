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

// Config is the top-level configuration object of the update service.
var Config = new(struct {
	OpenAI   config.OpenAI   `group:"OpenAI" namespace:"openai"`
	Postgres config.Postgres `group:"Postgres" namespace:"postgres"`
	Kafka    config.Kafka    `group:"Kafka" namespace:"kafka"`
	Qdrant   config.Qdrant   `group:"Qdrant" namespace:"qdrant"`
	Redis    config.Redis    `group:"Redis" namespace:"redis"`
	Service  config.Service  `group:"Service" namespace:"service"`
	Pipeline config.Pipeline `group:"Pipeline" namespace:"pipeline"`
	Retry    config.Retry    `group:"Retry" namespace:"retry"`
	DLQ      config.DLQ      `group:"DLQ" namespace:"dlq"`

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
	}).Info("update service configuration")

	mbp.Must(Config.OpenAI.Validate(), "invalid OpenAI configuration")

	var app, err = runtime.NewUpdate(runtime.UpdateConfig{
		OpenAI:   Config.OpenAI,
		Postgres: Config.Postgres,
		Kafka:    Config.Kafka,
		Qdrant:   Config.Qdrant,
		Redis:    Config.Redis,
		Service:  Config.Service,
		Pipeline: Config.Pipeline,
		Retry:    Config.Retry,
		DLQ:      Config.DLQ,
	})
	mbp.Must(err, "building update service")

	var tasks = task.NewGroup(context.Background())
	mbp.Must(app.Container.Connect(tasks.Context()), "connecting update service dependencies")
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
		"topic":   Config.Kafka.TopicDocuments,
	}).Info("starting update service")
	tasks.GoRun()

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "update service task failed")
	log.Info("goodbye")

	return nil
}

func main() {
	_ = godotenv.Load()

	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as the update service", `
Consume document change events and keep the vector index current, until
signaled to exit (via SIGTERM).
`, &cmdServe{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
