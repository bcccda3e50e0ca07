package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
	"github.com/roadbuddy/fleetwatch/internal/reconciler"
	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/stream"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"
)

type watchOptions struct {
	transport string
	summary   time.Duration
	ack       bool
}

func newWatchCommand(ctx context.Context, opts *rootOptions) *cobra.Command {
	wo := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a fleetwatch server and print alerts",
		Long:  "watch loads the roster, subscribes to the telemetry stream and prints a line for every Drowsy or Asleep alert. It reconnects whenever the stream drops.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runWatch(ctx, cfg, wo, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	fs := cmd.Flags()
	fs.String("stream-url", "", "SSE stream URL")
	fs.String("roster-url", "", "base URL of the roster API")
	fs.Int("max-reconnect-attempts", 0, "give up after this many failed reconnects (0 retries forever)")
	fs.StringVar(&wo.transport, "transport", transportSSE, "stream transport: sse or ws")
	fs.DurationVar(&wo.summary, "summary", 0, "print a fleet summary at this interval (0 disables)")
	fs.BoolVar(&wo.ack, "ack", false, "acknowledge alerts by typing their IDs on stdin, one per line")

	opts.bind("reconciler.stream-url", fs.Lookup("stream-url"))
	opts.bind("reconciler.roster-url", fs.Lookup("roster-url"))
	opts.bind("reconciler.max-reconnect-attempts", fs.Lookup("max-reconnect-attempts"))
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, wo *watchOptions, in io.Reader, out io.Writer, logger *zap.Logger) error {
	src, err := newStreamSource(wo.transport, cfg.Reconciler.StreamURL)
	if err != nil {
		return err
	}

	r := reconciler.New(src, roster.NewHTTPSource(cfg.Reconciler.RosterURL), cfg.Reconciler, logger)
	r.SetHooks(reconciler.Hooks{
		StateChanged: func(from, to string) {
			fmt.Fprintf(out, "%s  %s -> %s\n", time.Now().Format(time.TimeOnly), from, to)
		},
		Notified: func(n reconciler.Notification) {
			fmt.Fprintf(out, "%s  ALERT %s (%s) is %s at %.5f,%.5f [%s]\n",
				n.Timestamp.Format(time.TimeOnly), n.DriverName, n.VehicleID, n.State, n.Location.Lat, n.Location.Lon, n.ID)
		},
	})

	if wo.summary > 0 {
		go printSummaries(ctx, r, wo.summary, out)
	}
	if wo.ack {
		go readAcks(in, r, out)
	}

	logger.Info("watching fleet",
		zap.String("stream", cfg.Reconciler.StreamURL),
		zap.String("roster", cfg.Reconciler.RosterURL),
		zap.String("transport", wo.transport))
	return r.Run(ctx)
}

func printSummaries(ctx context.Context, r *reconciler.Reconciler, every time.Duration, out io.Writer) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintln(out, summarize(r))
		}
	}
}

type acknowledger interface {
	Acknowledge(id string) error
}

// readAcks acknowledges every alert ID read from in until in is exhausted.
func readAcks(in io.Reader, r acknowledger, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if err := r.Acknowledge(id); err != nil {
			fmt.Fprintf(out, "%s  ack failed: %v\n", time.Now().Format(time.TimeOnly), err)
			continue
		}
		fmt.Fprintf(out, "%s  acknowledged %s\n", time.Now().Format(time.TimeOnly), id)
	}
}

func summarize(r *reconciler.Reconciler) string {
	counts := make(map[string]int)
	vehicles := r.Vehicles()
	for _, v := range vehicles {
		counts[string(v.State)]++
	}

	link := "disconnected"
	if r.Connected() {
		link = "connected"
	}
	return fmt.Sprintf("%s  %d vehicles (%d Normal, %d Drowsy, %d Asleep), %d unacknowledged alerts, %s",
		time.Now().Format(time.TimeOnly), len(vehicles),
		counts["Normal"], counts["Drowsy"], counts["Asleep"], r.Unacknowledged(), link)
}

func newStreamSource(transport, streamURL string) (stream.Source, error) {
	switch transport {
	case transportSSE:
		return stream.NewHTTPSource(streamURL, nil), nil
	case transportWS:
		wsURL, err := websocketURL(streamURL)
		if err != nil {
			return nil, err
		}
		return stream.NewWSSource(wsURL), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want sse or ws)", transport)
	}
}

// websocketURL maps an http(s) SSE URL onto the matching WebSocket endpoint.
// ws and wss URLs are returned unchanged.
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid stream URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid stream URL %q: unsupported scheme", raw)
	}
	if strings.HasSuffix(u.Path, "/sse") {
		u.Path = strings.TrimSuffix(u.Path, "/sse") + "/ws"
	}
	return u.String(), nil
}
