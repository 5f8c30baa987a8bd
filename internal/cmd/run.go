package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/arithx/update-engine/internal/updatecheck"
	"github.com/arithx/update-engine/pkg/activation"
	"github.com/arithx/update-engine/pkg/config"
	"github.com/arithx/update-engine/pkg/history"
	"github.com/arithx/update-engine/pkg/log"
	"github.com/arithx/update-engine/pkg/plan"
	"github.com/arithx/update-engine/pkg/reactor"
	"github.com/arithx/update-engine/pkg/service"
	"github.com/arithx/update-engine/pkg/service/push"
	"github.com/arithx/update-engine/pkg/xfer"
)

var rlog = log.For(log.Run)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one update attempt: check, download, verify, finalize",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "path to a JSON update descriptor (see internal/updatecheck)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "if set, serve the push-notification websocket here while running")
	cmd.MarkFlagRequired("plan")
	return cmd
}

// snapshotNotifier prints every state transition as a JSON line to stdout
// and signals done() once a terminal state is reached.
type snapshotNotifier struct {
	hub  *push.Hub
	once sync.Once
	done chan struct{}
}

func (n *snapshotNotifier) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err == nil {
		fmt.Println(string(data))
	}
	if n.hub != nil {
		n.hub.Broadcast(v)
	}
	snap, ok := v.(service.Snapshot)
	if !ok {
		return
	}
	switch snap.Kind {
	case service.UpdatedNeedReboot, service.ReportingError, service.Idle:
		n.once.Do(func() { close(n.done) })
	}
}

func runOnce(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		rlog.Logf("%s; continuing with defaults", err)
		cfg = config.Default()
	}
	if cfg.LogJSON {
		log.SetOutput(os.Stdout, true)
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer hist.Close()

	addr := listenAddr
	if addr == "" {
		addr = cfg.PushListenAddr
	}
	var hub *push.Hub
	if addr != "" {
		hub = push.NewHub()
		go func() {
			if err := http.ListenAndServe(addr, hub); err != nil {
				rlog.Logf("push server exited: %s", err)
			}
		}()
	}

	react := reactor.NewLive()
	notifier := &snapshotNotifier{hub: hub, done: make(chan struct{})}

	activator := &activation.Activator{
		GPT:         &activation.GPTTool{Exec: buildExecutor(cfg), Path: cfg.GPTToolPath},
		VendorHook:  cfg.VendorHookPath,
		MountDir:    cfg.ESPMountDir,
		KernelImage: "/usr/boot/vmlinuz",
	}

	svc := service.New(
		updatecheck.FileChecker{Path: planPath},
		func(p plan.Plan) xfer.Fetcher { return xfer.NewHTTPFetcher(p.URL, nil, react) },
		func(p plan.Plan) xfer.Writer { return &xfer.DirectWriter{Path: p.InstallPath} },
		activator,
		hist,
	)
	svc.React = react
	svc.Notifier = notifier

	svc.AttemptUpdate(ctx)

	select {
	case <-notifier.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	final := svc.GetStatus()
	if final.Kind == service.ReportingError {
		fatalf("update attempt failed: %s", final.ErrorKind)
	}
	return nil
}

func buildExecutor(cfg config.Config) activation.Executor {
	if cfg.ImageLoaderPath == "" {
		return activation.HostExecutor{}
	}
	return &activation.ImageExecutor{Loader: cfg.ImageLoaderPath, LibPath: cfg.ImageLibPath}
}
