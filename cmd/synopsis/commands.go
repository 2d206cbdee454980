package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synopsis/internal/core"
	"synopsis/internal/inventory"
	"synopsis/pkg/domain"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the inventory tables of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(store core.Store, _ *core.Service) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store ready: %d hosts, %d services, %d host groups, %d service groups\n",
					a.cfg.Storage.Driver,
					store.Count(domain.EntityHost), store.Count(domain.EntityService),
					store.Count(domain.EntityHostGroup), store.Count(domain.EntityServiceGroup))
				return nil
			})
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Apply a YAML inventory file",
		Long: `Apply a YAML inventory file. Hosts, services and groups are matched by
name: missing ones are created, existing ones updated. The whole file is
applied in one transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := inventory.LoadFile(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store core.Store, _ *core.Service) error {
				sum, res, err := inventory.Apply(cmd.Context(), store, seed)
				if err != nil {
					return err
				}
				logViolations(a.log, res)
				fmt.Fprintf(cmd.OutOrStdout(), "hosts: %d created, %d updated\nservices: %d created, %d updated\ngroups: %d created\nmemberships: %d added\n",
					sum.HostsCreated, sum.HostsUpdated, sum.ServicesCreated, sum.ServicesUpdated,
					sum.HostGroupsCreated+sum.ServiceGroupsCreated, sum.MembershipsAdded)
				return nil
			})
		},
	}
}

func newHostsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "hosts", Short: "List and edit hosts"}

	var prefix string
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List hosts with their services and groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				hosts, err := svc.ListHosts(cmd.Context(), domain.NameHasPrefix(prefix))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), hosts)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tENDPOINT\tSERVICES\tGROUPS")
				for _, h := range hosts {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", h.ID, h.Name, h.Endpoint, strings.Join(h.Services, ","), strings.Join(h.Groups, ","))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&prefix, "prefix", "", "only hosts whose name starts with prefix")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	add := &cobra.Command{
		Use:   "add NAME ENDPOINT",
		Short: "Create a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				host, _, err := svc.CreateHost(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created host %d %s\n", host.ID, host.Name)
				return nil
			})
		},
	}

	var name, endpoint string
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Rename a host or change its endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("name") && !cmd.Flags().Changed("endpoint") {
				return errors.New("nothing to update: pass --name or --endpoint")
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				host, _, err := svc.UpdateHost(cmd.Context(), id, func(h *domain.Host) error {
					if cmd.Flags().Changed("name") {
						h.Name = name
					}
					if cmd.Flags().Changed("endpoint") {
						h.Endpoint = endpoint
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated host %d %s %s\n", host.ID, host.Name, host.Endpoint)
				return nil
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "new host name")
	update.Flags().StringVar(&endpoint, "endpoint", "", "new endpoint")

	remove := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				_, err := svc.DeleteHost(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted host %d\n", id)
				return nil
			})
		},
	}

	var hostID int64
	addService := &cobra.Command{
		Use:   "add-service NAME ALIAS",
		Short: "Create a service, optionally attached to a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref *int64
			if cmd.Flags().Changed("host") {
				ref = domain.IDRef(hostID)
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				s, _, err := svc.CreateService(cmd.Context(), ref, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created service %d %s\n", s.ID, s.Name)
				return nil
			})
		},
	}
	addService.Flags().Int64Var(&hostID, "host", 0, "id of the host running the service")

	cmd.AddCommand(list, add, update, remove, addService)
	return cmd
}

func newGroupsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "groups", Short: "List and edit host and service groups"}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List host groups with their members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				groups, err := svc.ListHostGroups(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), groups)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tMEMBERS")
				for _, g := range groups {
					fmt.Fprintf(w, "%d\t%s\t%s\n", g.ID, g.Name, strings.Join(g.Members, ","))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var services bool
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a host group, or a service group with --services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				create, kind := svc.CreateHostGroup, "host group"
				if services {
					create, kind = svc.CreateServiceGroup, "service group"
				}
				g, _, err := create(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %d %s\n", kind, g.ID, g.Name)
				return nil
			})
		},
	}
	add.Flags().BoolVar(&services, "services", false, "create a service group")

	addHosts := &cobra.Command{
		Use:   "add-hosts GROUP HOST...",
		Short: "Add hosts to a host group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				_, err := svc.AddHostsToGroup(cmd.Context(), ids[0], ids[1:]...)
				return err
			})
		},
	}

	removeHost := &cobra.Command{
		Use:   "remove-host GROUP HOST",
		Short: "Remove a host from a host group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				_, err := svc.RemoveHostFromGroup(cmd.Context(), ids[0], ids[1])
				return err
			})
		},
	}

	addServices := &cobra.Command{
		Use:   "add-services GROUP SERVICE...",
		Short: "Add services to a service group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				_, err := svc.AddServicesToGroup(cmd.Context(), ids[0], ids[1:]...)
				return err
			})
		},
	}

	of := &cobra.Command{
		Use:   "of HOST",
		Short: "Print the host groups a host belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				groups, err := svc.HostGroupsOf(cmd.Context(), id)
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", g.ID, g.Name)
				}
				return nil
			})
		},
	}

	members := &cobra.Command{
		Use:   "members GROUP",
		Short: "Print the hosts of a host group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(_ core.Store, svc *core.Service) error {
				hosts, err := svc.MembersOf(cmd.Context(), id)
				if err != nil {
					return err
				}
				for _, h := range hosts {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", h.ID, h.Name, h.Endpoint)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, addHosts, removeHost, addServices, of, members)
	return cmd
}

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "backup", Short: "Write and list inventory backups"}

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a snapshot of the inventory to blob storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.backups(cmd.Context())
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store core.Store, _ *core.Service) error {
				info, err := mgr.Create(cmd.Context(), store)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), info.Key)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.backups(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := mgr.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore KEY",
		Short: "Restore a backup into an empty store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.backups(cmd.Context())
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store core.Store, _ *core.Service) error {
				res, err := mgr.Restore(cmd.Context(), args[0], store)
				if err != nil {
					return err
				}
				logViolations(a.log, res)
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s: %d hosts, %d services\n",
					args[0], store.Count(domain.EntityHost), store.Count(domain.EntityService))
				return nil
			})
		},
	}
}

func newMetricsCmd(a *app) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve prometheus metrics for the inventory until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.recorder == nil {
				return errors.New("metrics are disabled in the configuration")
			}
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			if listen == "" {
				return errors.New("no listen address: set metrics.listen or pass --listen")
			}
			return a.withStore(cmd, func(store core.Store, _ *core.Service) error {
				return a.serveMetrics(cmd, store, listen, interval)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to serve /metrics on (default: metrics.listen)")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "inventory gauge refresh interval")
	return cmd
}

func (a *app) serveMetrics(cmd *cobra.Command, store core.Store, listen string, interval time.Duration) error {
	ctx := cmd.Context()
	refresh := func() {
		if err := a.recorder.UpdateInventory(ctx, store); err != nil {
			a.log.WithError(err).Warn("refresh inventory gauges")
		}
	}
	refresh()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.recorder.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.WithField("listen", listen).Info("serving metrics")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return nil
		}
	}
}

func logViolations(log logrus.FieldLogger, res domain.Result) {
	for _, v := range res.Violations {
		entry := log.WithFields(logrus.Fields{"rule": v.Rule, "entity": v.Entity, "id": v.EntityID})
		if v.Severity == domain.SeverityWarn {
			entry.Warn(v.Message)
		} else {
			entry.Info(v.Message)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
