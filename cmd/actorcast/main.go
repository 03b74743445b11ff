package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"vico_home/actorcast/internal/config"
	"vico_home/actorcast/internal/domain"
)

const longHelp = `actorcast - stream H264 from one actor to many viewers over WebRTC

Settings come from .env, an optional YAML file named by ACTORCAST_CONFIG and
ACTORCAST_* environment variables. Flags override all of them.

Required:
  ACTORCAST_SESSION  session (topic) name
  ACTORCAST_BUS      signaling bus: ws://relay, mqtt://broker or redis://host

Examples:
  # Stream two files, SIGUSR1 swaps between them
  actorcast actor --source cam.h264 --source screen.h264

  # Watch
  actorcast viewer --actor-id alice | ffplay -f h264 -
`

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.Config
	var flags struct {
		session, bus, id, name, actorID string
		metrics, level, role            string
		sources                         []string
	}

	root := &cobra.Command{
		Use:           "actorcast",
		Short:         "Peer-to-peer actor/viewer streaming over WebRTC",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			set := func(name string, dst *string, v string) {
				if cmd.Flags().Changed(name) {
					*dst = v
				}
			}
			set("session", &cfg.Session, flags.session)
			set("bus", &cfg.Bus, flags.bus)
			set("id", &cfg.ID, flags.id)
			set("name", &cfg.Name, flags.name)
			set("actor-id", &cfg.ActorID, flags.actorID)
			set("metrics-addr", &cfg.MetricsAddr, flags.metrics)
			set("log-level", &cfg.LogLevel, flags.level)
			set("role", &cfg.Role, flags.role)
			if cmd.Flags().Changed("source") {
				cfg.Media.Sources = flags.sources
			}
			return cfg.Validate()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.session, "session", "", "session name (ACTORCAST_SESSION)")
	pf.StringVar(&flags.bus, "bus", "", "signaling bus url (ACTORCAST_BUS)")
	pf.StringVar(&flags.id, "id", "", "participant id, random when empty (ACTORCAST_ID)")
	pf.StringVar(&flags.name, "name", "", "display name (ACTORCAST_NAME)")
	pf.StringVar(&flags.actorID, "actor-id", "", "id of the session's actor (ACTORCAST_ACTOR_ID)")
	pf.StringVar(&flags.metrics, "metrics-addr", "", "serve /metrics and /status on this address (ACTORCAST_METRICS_ADDR)")
	pf.StringVar(&flags.level, "log-level", "", "error, warn, info, debug or trace (ACTORCAST_LOG_LEVEL)")

	actor := &cobra.Command{
		Use:   "actor",
		Short: "Stream looping H264 files to every viewer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, domain.RoleActor)
		},
	}
	actor.Flags().StringArrayVar(&flags.sources, "source", nil, "H264 Annex-B file, repeat for more (ACTORCAST_SOURCES)")

	viewer := &cobra.Command{
		Use:   "viewer",
		Short: "Receive the actor's stream and write H264 to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, domain.RoleViewer)
		},
	}

	join := &cobra.Command{
		Use:   "join",
		Short: "Join with the role from --role, or actor when --id equals --actor-id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, resolveRole(cfg))
		},
	}
	join.Flags().StringVar(&flags.role, "role", "", "actor or viewer (ACTORCAST_ROLE)")
	join.Flags().StringArrayVar(&flags.sources, "source", nil, "H264 Annex-B file for the actor role")

	root.AddCommand(actor, viewer, join)
	return root
}
