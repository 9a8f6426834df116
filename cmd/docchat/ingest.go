package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/analyzer"
	"github.com/arcadian-io/docchat/internal/blob"
	"github.com/arcadian-io/docchat/internal/index"
	"github.com/arcadian-io/docchat/internal/ingest"
	"github.com/arcadian-io/docchat/provider"
)

// ingestCMD embeds one document synchronously, bypassing the queue. The
// argument is a blob name, a local file (uploaded first) or an http(s) URL.
func ingestCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "ingest <name|file|url>",
		Short: "Embed one document into the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			blobStore, err := blob.NewStore(cfg.Blob, nil)
			if err != nil {
				return err
			}
			idx, err := index.Open(cfg.Index, nil)
			if err != nil {
				return err
			}
			defer idx.Close()
			llm, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			var an *analyzer.Client
			if cfg.Analyzer.Endpoint != "" {
				an = analyzer.New(cfg.Analyzer)
			}

			active := config.NewActiveLoader(blobStore, nil)
			embedder := ingest.NewEmbedder(llm, idx, cfg.Ingestion.MaxBatchSize, nil)
			coordinator := ingest.NewCoordinator(blobStore, active, embedder, an, idx, nil)

			name := args[0]
			if st, err := os.Stat(name); err == nil && !st.IsDir() {
				data, err := os.ReadFile(name)
				if err != nil {
					return err
				}
				base := filepath.Base(name)
				if err := blobStore.Upload(ctx, base, data, nil); err != nil {
					return err
				}
				name = base
			}
			if err := coordinator.EmbedFile(ctx, name); err != nil {
				return err
			}
			fmt.Printf("ingested %s\n", name)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
