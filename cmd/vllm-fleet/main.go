package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/replicate/go/logging"
	"github.com/replicate/go/must"
	_ "go.uber.org/automaxprocs"

	"github.com/evalops/vllm-fleet/internal/config"
	"github.com/evalops/vllm-fleet/internal/report"
	"github.com/evalops/vllm-fleet/internal/service"
)

var logger = logging.New("vllm-fleet")

type DeployConfig struct {
	Model         string `ff:"long: model, nodefault, usage: model name or path to serve"`
	GPUs          string `ff:"long: gpus, nodefault, usage: GPU groups; the token 01 places one worker on devices 0 and 1 (default 01/23/45/67)"`
	Port          int    `ff:"long: port, default: 8080, usage: load balancer listen port"`
	StartPort     int    `ff:"long: start-port, default: 8000, usage: starting port for vLLM workers"`
	TP            int    `ff:"long: tp, default: 2, usage: tensor parallelism per worker"`
	VLLMBin       string `ff:"long: vllm-bin, default: vllm, usage: path to the vLLM binary"`
	NginxBin      string `ff:"long: nginx-bin, default: nginx, usage: path to the nginx binary"`
	ExtraArgs     string `ff:"long: extra-args, nodefault, usage: extra arguments passed verbatim to every vLLM worker"`
	LogDir        string `ff:"long: log-dir, default: /tmp/vllm_fleet, usage: run-scoped log directory cleared on start"`
	StatsInterval int    `ff:"long: stats-interval, default: 5, usage: seconds between stats refreshes"`
}

func (c *DeployConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("--model is required")
	}
	return nil
}

func deployCommand() *ff.Command {
	log := logger.Sugar()

	var cfg DeployConfig
	flags := ff.NewFlagSet("deploy")
	must.Do(flags.AddStruct(&cfg))

	return &ff.Command{
		Name:  "deploy",
		Usage: "deploy [FLAGS]",
		Flags: flags,
		Exec: func(ctx context.Context, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.GPUs == "" {
				cfg.GPUs = "01,23,45,67"
			}
			log.Infow("configuration",
				"model", cfg.Model,
				"gpus", cfg.GPUs,
				"port", cfg.Port,
				"start-port", cfg.StartPort,
				"tp", cfg.TP,
				"log-dir", cfg.LogDir,
			)

			ctx, cancel := context.WithCancel(ctx)
			go func() {
				ch := make(chan os.Signal, 1)
				signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
				s := <-ch
				log.Infow("stopping deployment", "signal", s)
				cancel()
			}()

			svc := service.New(config.Config{
				Model:          cfg.Model,
				GPUSpec:        cfg.GPUs,
				StartPort:      cfg.StartPort,
				TensorParallel: cfg.TP,
				VLLMBin:        cfg.VLLMBin,
				ExtraArgs:      cfg.ExtraArgs,
				ListenPort:     cfg.Port,
				NginxBin:       cfg.NginxBin,
				LogDir:         cfg.LogDir,
				StatsInterval:  time.Duration(cfg.StatsInterval) * time.Second,
			}, nil, logger)
			return svc.Run(ctx)
		},
	}
}

func reportCommand() *ff.Command {
	flags := ff.NewFlagSet("report")

	return &ff.Command{
		Name:  "report",
		Usage: "report RUN_DIR",
		Flags: flags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("report takes exactly one run directory")
			}
			runDir := strings.TrimRight(args[0], "/")
			metrics, err := report.LoadRunMetrics(runDir, logger)
			if err != nil {
				return err
			}
			fmt.Println(report.FormatSummary(metrics))
			return nil
		},
	}
}

func compareCommand() *ff.Command {
	flags := ff.NewFlagSet("compare")

	return &ff.Command{
		Name:  "compare",
		Usage: "compare RUN_DIR [RUN_DIR...]",
		Flags: flags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) < 2 {
				return errors.New("compare takes at least two run directories")
			}
			runs := make([]report.Run, 0, len(args))
			for _, arg := range args {
				runDir := strings.TrimRight(arg, "/")
				metrics, err := report.LoadRunMetrics(runDir, logger)
				if err != nil {
					return err
				}
				runs = append(runs, report.Run{ID: filepath.Base(runDir), Metrics: metrics})
			}
			fmt.Println(report.FormatComparison(runs))
			return nil
		},
	}
}

func main() {
	log := logger.Sugar()
	flags := ff.NewFlagSet("vllm-fleet")
	cmd := &ff.Command{
		Name:  "vllm-fleet",
		Usage: "vllm-fleet <COMMAND> [FLAGS]",
		Flags: flags,
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
		Subcommands: []*ff.Command{
			deployCommand(),
			reportCommand(),
			compareCommand(),
		},
	}
	err := cmd.ParseAndRun(context.Background(), os.Args[1:])
	switch {
	case errors.Is(err, ff.ErrHelp):
		must.Get(fmt.Fprintln(os.Stderr, ffhelp.Command(cmd)))
		os.Exit(1)
	case err != nil:
		log.Error(err)
		os.Exit(1)
	}
}
