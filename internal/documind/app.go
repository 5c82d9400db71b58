package documind

import (
	"github.com/documind-io/documind/pkg/infra/app"
)

const (
	appName        = "documind"
	appDescription = `DocuMind QA Service

Tenant-scoped question answering over ingested documents.

This server provides:
  - Document ingestion with overlapping chunking and vector embeddings
  - Hybrid retrieval fusing vector similarity and keyword search
  - Grounded answer generation with citation extraction and confidence scoring`
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			srv, err := NewServer(opts)
			if err != nil {
				return err
			}
			return srv.Run()
		}),
	)
}
