// helmsman runs the scheduler daemon: the REST api, the admin server and
// the scheduling loop, backed by the in-process runtime emulator.
package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/waterline/helmsman/api"
	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime/fake"
	"github.com/waterline/helmsman/common/endpoints"
	"github.com/waterline/helmsman/common/log/hooks"
	"github.com/waterline/helmsman/common/stats"
	"github.com/waterline/helmsman/config"
	"github.com/waterline/helmsman/deploylog"
	"github.com/waterline/helmsman/group"
	"github.com/waterline/helmsman/health"
	"github.com/waterline/helmsman/offer"
	"github.com/waterline/helmsman/scheduler"
	"github.com/waterline/helmsman/store"
)

func main() {
	log.AddHook(hooks.NewContextHook())

	var configFile string
	var apiAddr string
	var adminAddr string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "helmsman",
		Short: "helmsman is a multi-tenant application scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, apiAddr, adminAddr, logLevel)
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to a JSON config file")
	rootCmd.Flags().StringVar(&apiAddr, "api_addr", "", "address to serve the api on")
	rootCmd.Flags().StringVar(&adminAddr, "admin_addr", "", "address to serve admin endpoints on")
	rootCmd.Flags().StringVar(&logLevel, "log_level", "info", "log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configFile, apiAddr, adminAddr, logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	cfg, err := config.ParseFile(configFile)
	if err != nil {
		return err
	}
	if apiAddr != "" {
		cfg.Api.Addr = apiAddr
	}
	if adminAddr != "" {
		cfg.Admin.Addr = adminAddr
	}

	stat := stats.DefaultStatsReceiver()

	var agents []cluster.Agent
	for _, a := range cfg.Cluster.Agents {
		agents = append(agents, cluster.NewAgent(a.Id, a.Cpus, a.Mem, a.PortBegin, a.PortEnd))
	}
	rt := fake.NewRuntime(agents...)
	go func() {
		for {
			rt.Cycle()
			time.Sleep(cfg.Scheduler.LoopInterval())
		}
	}()

	cl := cluster.NewCluster(agents, nil)
	specs := store.NewStore()
	dlog := deploylog.MakeInMemoryLog()

	sched := scheduler.NewStatefulScheduler(
		cl.Subscribe(),
		rt,
		specs,
		dlog,
		scheduler.SchedulerConfig{
			RecoverDeployments: cfg.Scheduler.RecoverDeployments,
			LoopInterval:       cfg.Scheduler.LoopInterval(),
			Matcher: offer.MatcherConfig{
				BackoffInitial: cfg.Scheduler.BackoffInitial(),
				BackoffMax:     cfg.Scheduler.BackoffMax(),
			},
			Checker: health.CheckerConfig{ProbeRetries: cfg.Health.ProbeRetries},
		},
		stat.Scope("sched"),
	)

	mgr := group.NewManager(specs, sched.Coordinator())

	go func() {
		admin := endpoints.NewAdminServer(cfg.Admin.Addr, stat)
		log.Fatal(admin.Serve())
	}()

	server := &api.Server{
		Addr:  cfg.Api.Addr,
		Specs: specs,
		Mgr:   mgr,
		Coord: sched.Coordinator(),
		Tasks: sched.Tracker(),
		Stat:  stat.Scope("api"),
	}
	return server.Serve()
}
