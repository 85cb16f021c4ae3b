package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/config"
	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/internal/service"
)

// rootOptions are the persistent flags. Flags the user sets override the
// settings file and DIAGRAMMER_* variables.
type rootOptions struct {
	stdin io.Reader

	configPath string
	logLevel   string
	logJSON    bool
	provider   string
	model      string
	apiKey     string
	vaultKey   string
	dbPath     string
	format     string
	vocabulary string
	prompts    string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdin: stdin}

	cmd := &cobra.Command{
		Use:   "diagrammer",
		Short: "Generate architecture diagrams from natural language",
		Long: `diagrammer asks a language model for a JSON diagram specification,
validates it against the node vocabulary, repairs it when needed and renders
the result as PNG, SVG, DOT or Mermaid.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "settings file (default: ~/.diagrammer/settings.json)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")
	pf.StringVar(&opts.provider, "provider", "", "generator backend: mock, openai, gemini")
	pf.StringVar(&opts.model, "model", "", "generator model name")
	pf.StringVar(&opts.apiKey, "api-key", "", "generator API key (memory only)")
	pf.StringVar(&opts.vaultKey, "vault-key", "", "passphrase unlocking sealed secrets (memory only)")
	pf.StringVar(&opts.dbPath, "db-path", "", "event log database; empty string disables it")
	pf.StringVar(&opts.format, "format", "", "default output format: png, svg, dot, mermaid")
	pf.StringVar(&opts.vocabulary, "vocabulary", "", "HCL file with extra node kinds")
	pf.StringVar(&opts.prompts, "prompts", "", "YAML file overriding prompt templates")

	cmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newGenerateCmd(opts),
		newChatCmd(opts),
		newValidateCmd(opts),
		newKindsCmd(opts),
		newRunsCmd(opts),
		newSecretsCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and applies the flags that were set.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}

	o.apply(cmd, &cfg)
	return cfg, cfg.Validate()
}

// apply copies every flag the user set onto cfg.
func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	overrides := []struct {
		flag  string
		dst   *string
		value string
	}{
		{"log-level", &cfg.LogLevel, o.logLevel},
		{"provider", &cfg.LLMProvider, o.provider},
		{"model", &cfg.LLMModel, o.model},
		{"api-key", &cfg.LLMAPIKey, o.apiKey},
		{"vault-key", &cfg.VaultKey, o.vaultKey},
		{"db-path", &cfg.DBPath, o.dbPath},
		{"format", &cfg.DiagramFormat, o.format},
		{"vocabulary", &cfg.VocabularyFile, o.vocabulary},
		{"prompts", &cfg.PromptsFile, o.prompts},
	}
	for _, ov := range overrides {
		if changed(cmd, ov.flag) {
			*ov.dst = ov.value
		}
	}
}

// runtime loads the configuration and wires a Runtime that logs to the
// command's stderr. mutate, when non-nil, adjusts the configuration first.
func (o *rootOptions) runtime(cmd *cobra.Command, jsonLogs bool, mutate func(*config.Config)) (*service.Runtime, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := o.logger(cmd, cfg, jsonLogs)
	logger.Debug("configuration loaded", slog.Any("config", cfg.Redacted()))
	return service.Build(commandContext(cmd), cfg, logger)
}

func (o *rootOptions) logger(cmd *cobra.Command, cfg config.Config, jsonLogs bool) *slog.Logger {
	if changed(cmd, "log-json") {
		jsonLogs = o.logJSON
	}
	return logging.New(cmd.ErrOrStderr(), cfg.LogLevel, jsonLogs)
}

func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// closeRuntime releases rt, reporting failures on the command's logger.
func closeRuntime(rt *service.Runtime) {
	if err := rt.Close(context.Background()); err != nil {
		rt.Logger.Warn("runtime close failed", slog.String("error", err.Error()))
	}
}
