package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/agency"
	"github.com/nstogner/agency/pkg/clarify"
	"github.com/nstogner/agency/pkg/config"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/fetch"
	"github.com/nstogner/agency/pkg/model"
	"github.com/nstogner/agency/pkg/model/gemini"
	"github.com/nstogner/agency/pkg/model/openai"
	"github.com/nstogner/agency/pkg/report"
	"github.com/nstogner/agency/pkg/search"
	"github.com/nstogner/agency/pkg/session"
	"github.com/nstogner/agency/pkg/store/sqlite"
	"github.com/nstogner/agency/pkg/terminal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"agency":   "agency",
	"provider": "provider",
	"debug":    "debug",
}

func newRoot() *cobra.Command {
	var configFile string
	var settings *config.Settings

	root := &cobra.Command{
		Use:           "agency",
		Short:         "Interactive deep research with clarifying questions and PDF reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(configFile)
			if err != nil {
				return err
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			settings, err = config.Load(v)
			if err != nil {
				return err
			}
			setupLogging(settings.Debug)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTerminal(cmd.Context(), settings)
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./agency.yaml if present)")
	root.PersistentFlags().String("agency", "", "Agency definition: "+fmt.Sprint(config.BuiltinAgencies())+" or a YAML file")
	root.PersistentFlags().String("provider", "", "Model provider: gemini or openai")
	root.PersistentFlags().Bool("debug", false, "Debug logging and print each event type once")

	root.AddCommand(
		serveCmd(&settings),
		ingestCmd(&settings),
		reportsCmd(&settings),
	)
	return root
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// app holds the collaborators shared by every command.
type app struct {
	settings *config.Settings
	store    *sqlite.Store
	provider model.Provider
	tools    *agency.Toolbox
	def      domain.AgencyDef
	reports  *report.PDFWriter
}

func openStore(s *config.Settings) (*sqlite.Store, error) {
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := sqlite.New(s.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func newApp(ctx context.Context, s *config.Settings) (*app, error) {
	if s.APIKey() == "" {
		return nil, fmt.Errorf("no API key for provider %q (set %s_API_KEY)", s.Provider, map[string]string{
			config.ProviderGemini: "GEMINI",
			config.ProviderOpenAI: "OPENAI",
		}[s.Provider])
	}

	def, err := config.LoadAgency(s.Agency)
	if err != nil {
		return nil, err
	}
	def = s.Apply(def)

	st, err := openStore(s)
	if err != nil {
		return nil, err
	}

	var provider model.Provider
	switch s.Provider {
	case config.ProviderOpenAI:
		provider = openai.New(s.OpenAIAPIKey, s.OpenAIBaseURL)
	default:
		provider, err = gemini.New(ctx, s.GeminiAPIKey)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("initializing Gemini provider: %w", err)
		}
	}

	var searcher search.Provider = search.NewDuckDuckGo()
	if s.TavilyAPIKey != "" {
		searcher = search.NewTavily(s.TavilyAPIKey, "")
	}
	tools := agency.NewToolbox(searcher, fetch.NewHTTP(), st)

	if err := agency.Validate(def, tools); err != nil {
		st.Close()
		return nil, fmt.Errorf("agency %q: %w", def.Name, err)
	}
	slog.Debug("Agency loaded", "name", def.Name, "agents", len(def.Agents), "provider", provider.Name(), "model", def.Model)

	return &app{
		settings: s,
		store:    st,
		provider: provider,
		tools:    tools,
		def:      def,
		reports:  report.New(s.ReportsDir, st),
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

// newAgency builds an agency bound to one conversation.
func (a *app) newAgency(sessionID string) (*agency.Agency, error) {
	return agency.New(a.def, a.provider, a.store, a.tools, agency.Options{
		SessionID: sessionID,
		MaxTurns:  a.settings.MaxTurns,
	})
}

func (a *app) sessionOptions() session.Options {
	return session.Options{
		Roles:                  a.def.Roles,
		MinReportChars:         a.settings.MinReportChars,
		MaxClarificationRounds: a.settings.ClarificationRounds,
	}
}

func runTerminal(ctx context.Context, s *config.Settings) error {
	a, err := newApp(ctx, s)
	if err != nil {
		return reportStartup(err)
	}
	defer a.Close()

	sessionID := uuid.New().String()
	ag, err := a.newAgency(sessionID)
	if err != nil {
		return reportStartup(err)
	}

	printer := terminal.NewPrinter(os.Stdout, s.Debug)
	in := terminal.NewLineReader(os.Stdin)
	answers := clarify.Interactive{In: in, Out: os.Stdout}

	ctrl, err := session.New(ag, answers, a.reports.ForSession(sessionID), printer, a.sessionOptions())
	if err != nil {
		return reportStartup(err)
	}

	printer.Info(fmt.Sprintf("Agency %q ready (%s). Type quit to exit.", a.def.Name, a.provider.Name()))
	if err := ctrl.Run(ctx, in); err != nil {
		return reportStartup(err)
	}
	printer.Info("Goodbye")
	return nil
}

// reportStartup prints a fatal error in the terminal's error style.
func reportStartup(err error) error {
	terminal.NewPrinter(os.Stderr, false).Error(err.Error())
	return err
}
