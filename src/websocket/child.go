package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/storage"
)

// CredentialsEnv carries the feed credentials of a spawned worker as a JSON
// object, so they never show up in the process arguments.
const CredentialsEnv = "MARKET_PLATFORM_FEED_CREDENTIALS"

// -----------------------------------------------------------------------------

// RunChild is the body of the worker process. Events go to stdout, logs to
// stderr.
func RunChild(ctx context.Context, specJSON string, protocols map[string]interfaces.IFeedProtocol, stdin io.Reader, stdout, stderr io.Writer) error {
	logger.SetOutput(stderr, "info")

	var spec models.MFeedSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return fmt.Errorf("feed spec: %w", err)
	}
	proto, ok := protocols[spec.Provider]
	if !ok {
		return fmt.Errorf("no feed protocol for provider %q", spec.Provider)
	}

	creds := map[string]string{}
	if raw := os.Getenv(CredentialsEnv); raw != "" {
		if err := json.Unmarshal([]byte(raw), &creds); err != nil {
			return fmt.Errorf("feed credentials: %w", err)
		}
	}

	sink, err := storage.NewSink(spec.Sink, spec.Name)
	if err != nil {
		return err
	}
	exporter, err := storage.NewExporter(ctx, spec.Sink.Export, spec.Name, sink)
	if err != nil {
		return err
	}

	w, err := NewWorker(WorkerOptions{
		Spec:        spec,
		Protocol:    proto,
		Sink:        sink,
		Exporter:    exporter,
		Credentials: creds,
		Stdin:       stdin,
		Stdout:      stdout,
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
