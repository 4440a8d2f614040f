package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/FirebirdSQL/fblib/internal/config"
	"github.com/FirebirdSQL/fblib/internal/filter"
	"github.com/FirebirdSQL/fblib/internal/server"
	"github.com/FirebirdSQL/fblib/internal/store"
	"github.com/FirebirdSQL/fblib/pkg/trace"
	"github.com/FirebirdSQL/fblib/pkg/types"
)

const defaultConfigContent = `parser:
  has_statement_free: true
  strict_unknown: false
  infer_retained_id: false

store:
  path: "~/.fbtrace/fbtrace.db"

server:
  host: "127.0.0.1"
  port: 3000

log:
  level: "info"
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "fbtrace",
		Short: "Firebird trace and audit log toolkit",
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newInitCmd())
	root.AddCommand(newParseCmd(&cfgPath))
	root.AddCommand(newImportCmd(&cfgPath))
	root.AddCommand(newListCmd(&cfgPath))
	root.AddCommand(newShowCmd(&cfgPath))
	root.AddCommand(newDeleteCmd(&cfgPath))
	root.AddCommand(newServeCmd(&cfgPath))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.fbtrace directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".fbtrace")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "fbtrace.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			return nil
		},
	}
}

func newParseCmd(cfgPath *string) *cobra.Command {
	var crit criteriaFlags
	var redact, yamlOut, stats bool
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a trace log and print the event stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level)

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			p := trace.NewParser(trace.NewReaderSource(in), cfg.ParserOptions())
			els, err := p.All()
			if err != nil {
				return err
			}
			recs, err := toRecords("", els)
			if err != nil {
				return err
			}
			criteria, err := crit.criteria()
			if err != nil {
				return err
			}
			recs = filter.Apply(recs, criteria)
			if redact {
				recs = filter.Redact(recs, filter.DefaultRedactConfig())
			}

			if stats {
				return writeStats(cmd.OutOrStdout(), p, recs)
			}
			if err := writeRecords(cmd.OutOrStdout(), recs, yamlOut); err != nil {
				return err
			}
			if n := p.UnknownCount(); n > 0 {
				logger.Warn("unknown trace entries", "count", n)
			}
			for _, w := range p.Warnings() {
				logger.Warn(w)
			}
			return nil
		},
	}
	crit.register(cmd)
	cmd.Flags().BoolVar(&redact, "redact", false, "blank parameter and context values")
	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "render events as YAML instead of JSON lines")
	cmd.Flags().BoolVar(&stats, "stats", false, "print stream counts instead of events")
	return cmd
}

func newImportCmd(cfgPath *string) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Parse a trace log into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath := args[0]
			cfg, st, logger, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			f, err := os.Open(logPath)
			if err != nil {
				return err
			}
			defer f.Close()

			p := trace.NewParser(trace.NewReaderSource(f), cfg.ParserOptions())
			els, err := p.All()
			if err != nil {
				return err
			}
			recs, err := toRecords("", els)
			if err != nil {
				return err
			}

			sess, err := st.CreateSession(logPath, label)
			if err != nil {
				return err
			}
			if err := st.SaveEvents(sess.ID, recs); err != nil {
				return err
			}
			if n := p.UnknownCount(); n > 0 {
				if err := st.SetUnknownCount(sess.ID, n); err != nil {
					return err
				}
				logger.Warn("unknown trace entries", "count", n)
			}
			if err := st.UpdateSessionStatus(sess.ID, "parsed"); err != nil {
				return err
			}
			logger.Info("imported", "session", sess.ID, "records", len(recs))
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "session label")
	return cmd
}

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, _, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-22s %-8s %-8s %-10s %s\n", "ID", "EVENTS", "UNKNOWN", "STATUS", "SOURCE")
			for _, s := range sessions {
				fmt.Fprintf(w, "%-22s %-8d %-8d %-10s %s\n", s.ID, s.EventCount, s.UnknownCount, s.Status, s.Source)
			}
			return nil
		},
	}
}

func newShowCmd(cfgPath *string) *cobra.Command {
	var summary, redact, yamlOut bool
	var crit criteriaFlags
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Show a session's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
			_, st, _, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := st.GetSession(session); err != nil {
				return fmt.Errorf("session %s not found", session)
			}
			recs, err := st.GetEvents(session)
			if err != nil {
				return err
			}
			if summary {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(types.Summarize(session, recs))
			}
			criteria, err := crit.criteria()
			if err != nil {
				return err
			}
			recs = filter.Apply(recs, criteria)
			if redact {
				recs = filter.Redact(recs, filter.DefaultRedactConfig())
			}
			return writeRecords(cmd.OutOrStdout(), recs, yamlOut)
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "print aggregate counts instead of events")
	cmd.Flags().BoolVar(&redact, "redact", false, "blank parameter and context values")
	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "render events as YAML instead of JSON lines")
	crit.register(cmd)
	return cmd
}

func newDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
			_, st, _, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if _, err := st.GetSession(session); err != nil {
				return fmt.Errorf("session %s not found", session)
			}
			return st.DeleteSession(session)
		},
	}
}

func newServeCmd(cfgPath *string) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, logger, err := open(*cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			srv, err := server.New(cfg, st)
			if err != nil {
				return err
			}
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			logger.Info("serving", "addr", addr)
			return srv.ListenAndServe(addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server host")
	cmd.Flags().IntVar(&port, "port", 0, "server port")
	return cmd
}

// criteriaFlags is the shared event selection flag set.
type criteriaFlags struct {
	kinds    []string
	statuses []string
	from     string
	to       string
	noInfos  bool
}

func (f *criteriaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.kinds, "kind", nil, "keep only these event kinds")
	cmd.Flags().StringSliceVar(&f.statuses, "status", nil, "keep only these statuses")
	cmd.Flags().StringVar(&f.from, "since", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&f.to, "until", "", "window end (RFC 3339)")
	cmd.Flags().BoolVar(&f.noInfos, "no-infos", false, "drop interleaved info records")
}

func (f *criteriaFlags) criteria() (filter.Criteria, error) {
	c := filter.Criteria{Kinds: f.kinds, Statuses: f.statuses, NoInfos: f.noInfos}
	if f.from != "" {
		t, err := time.Parse(time.RFC3339, f.from)
		if err != nil {
			return c, fmt.Errorf("--since: %w", err)
		}
		c.From = &t
	}
	if f.to != "" {
		t, err := time.Parse(time.RFC3339, f.to)
		if err != nil {
			return c, fmt.Errorf("--until: %w", err)
		}
		c.To = &t
	}
	return c, nil
}

func open(cfgPath string) (*config.Config, store.Store, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	st, err := store.NewSQLiteStore(expandHome(cfg.Store.Path))
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, newLogger(cfg.Log.Level), nil
}

func writeRecords(w io.Writer, recs []types.EventRecord, yamlOut bool) error {
	if !yamlOut {
		enc := json.NewEncoder(w)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	for _, rec := range recs {
		// Round-trip through JSON so the raw payload renders as a YAML
		// mapping instead of a byte array.
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		var generic map[string]any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		if err := enc.Encode(generic); err != nil {
			return err
		}
	}
	return nil
}

func writeStats(w io.Writer, p *trace.Parser, recs []types.EventRecord) error {
	events, infos := 0, 0
	for _, rec := range recs {
		if rec.Timestamp != nil {
			events++
		} else {
			infos++
		}
	}
	fmt.Fprintf(w, "events  %d\n", events)
	fmt.Fprintf(w, "infos   %d\n", infos)
	fmt.Fprintf(w, "unknown %d\n", p.UnknownCount())
	if info, ok := p.TraceInfo(); ok {
		fmt.Fprintf(w, "session %s\n", info.SessionName)
	}
	return nil
}

func toRecords(sessionID string, els []trace.Element) ([]types.EventRecord, error) {
	recs := make([]types.EventRecord, 0, len(els))
	for _, el := range els {
		rec, err := types.NewEventRecord(sessionID, el)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
