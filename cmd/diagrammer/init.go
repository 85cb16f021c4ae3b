package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/config"
	"github.com/rendis/diagrammer/internal/secrets"
	"github.com/rendis/diagrammer/internal/vocabulary"
)

// sampleKinds seed the vocabulary template written by init.
var sampleKinds = []vocabulary.Kind{
	{
		Name:        "PaymentGateway",
		Category:    "custom",
		Shape:       vocabulary.ShapeComponent,
		Color:       "#f4d03f",
		Description: "Third-party payment processor",
		Aliases:     []string{"Payments", "PSP"},
	},
}

func newInitCmd(root *rootOptions) *cobra.Command {
	var (
		listenAddr    string
		maxConcurrent int
		corsOrigins   []string
		withVocab     bool
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with defaults and the given flags",
		Long: `init writes settings.json (default: ~/.diagrammer/settings.json). The
generator API key is never written to the file. With --vault-key it is sealed
into the event log database instead; otherwise supply it through
DIAGRAMMER_LLM_API_KEY at run time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := root.configPath
			if path == "" {
				path = config.SettingsPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			dir := filepath.Dir(path)
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("cannot create %s: %w", dir, err)
			}

			cfg := config.Default()
			root.apply(cmd, &cfg)
			apiKey := cfg.LLMAPIKey
			cfg.LLMAPIKey = ""
			if changed(cmd, "listen-addr") {
				cfg.ListenAddr = listenAddr
			}
			if changed(cmd, "max-concurrent") {
				cfg.MaxConcurrentRequests = maxConcurrent
			}
			if len(corsOrigins) > 0 {
				cfg.CORSOrigins = corsOrigins
			}

			out := cmd.OutOrStdout()
			if withVocab {
				vocabPath := filepath.Join(dir, "vocabulary.hcl")
				if err := os.WriteFile(vocabPath, vocabulary.Encode(sampleKinds), 0o644); err != nil {
					return fmt.Errorf("cannot write %s: %w", vocabPath, err)
				}
				cfg.VocabularyFile = vocabPath
				fmt.Fprintf(out, "Vocabulary template written to %s\n", vocabPath)
			}

			// The generator key is checked at run time, not here.
			check := cfg
			check.LLMAPIKey = "deferred"
			if err := check.Validate(); err != nil {
				return err
			}

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(out, "Config written to %s\n", path)

			switch {
			case apiKey != "" && cfg.VaultKey != "":
				err := sealedStore(commandContext(cmd), cfg, func(ctx context.Context, v *secrets.AESVault) error {
					return v.Store(ctx, secrets.KeyLLMAPIKey, []byte(apiKey))
				})
				if err != nil {
					return fmt.Errorf("seal api key: %w", err)
				}
				fmt.Fprintf(out, "API key sealed in %s; unlock it with DIAGRAMMER_VAULT_KEY.\n", cfg.DBPath)
			case cfg.LLMProvider != "mock":
				fmt.Fprintf(out, "Set DIAGRAMMER_LLM_API_KEY, or seal it with `diagrammer secrets set %s`, before using the %s provider.\n",
					secrets.KeyLLMAPIKey, cfg.LLMProvider)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", ":8000", "TCP listen address")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 100, "maximum concurrent generation requests")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "allowed CORS origin (repeatable)")
	cmd.Flags().BoolVar(&withVocab, "vocabulary-template", false, "also write a sample vocabulary.hcl and reference it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	return cmd
}
