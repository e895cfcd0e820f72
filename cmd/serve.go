package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conceptmesh/mesh-go/pkg/archive"
	"github.com/conceptmesh/mesh-go/pkg/bridge"
	"github.com/conceptmesh/mesh-go/pkg/gateway"
	"github.com/conceptmesh/mesh-go/pkg/logging"
	"github.com/conceptmesh/mesh-go/pkg/metrics"
	"github.com/conceptmesh/mesh-go/pkg/reason"
	"github.com/conceptmesh/mesh-go/pkg/service"
	"github.com/conceptmesh/mesh-go/pkg/spectral"
	"github.com/conceptmesh/mesh-go/pkg/store"
)

var (
	addrFlag        string
	archivePathFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the concept mesh",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&addrFlag, "addr", "a", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&archivePathFlag, "archive", "", "Audit archive path (overrides config)")
}

func runServe(parent context.Context) error {
	closeLog, err := logging.Setup(viper.GetString("logging.level"), viper.GetString("logging.file"))
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditLog, err := openArchive()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	s, writer, stabilityWriter, err := restoreState(ctx, auditLog)
	if err != nil {
		return err
	}

	m := metrics.NewMeshMetrics()
	b := bridge.New(m, viper.GetDuration("bridge.resync_interval"))
	defer b.Close()

	gw := gateway.New(writer, auditLog, m, gateway.Config{
		LockWait: viper.GetDuration("gateway.lock_wait"),
	})

	monitor := spectral.New(s, stabilityWriter, auditLog, b, nil, m, spectral.Config{
		Cadence:            viper.GetDuration("spectral.cadence"),
		Window:             viper.GetInt("spectral.window"),
		CoherenceThreshold: viper.GetFloat64("spectral.coherence_threshold"),
		StabilityGain:      viper.GetFloat64("spectral.stability_gain"),
		CycleBudget:        viper.GetDuration("spectral.cycle_budget"),
		BurstThreshold:     viper.GetUint64("spectral.burst_threshold"),
	})

	engine := reason.New(s, reason.Config{
		HardCutoff:         viper.GetFloat64("reasoning.hard_cutoff"),
		MaxHops:            viper.GetInt("reasoning.max_hops"),
		BeamWidth:          viper.GetInt("reasoning.beam_width"),
		DecoherenceCeiling: viper.GetFloat64("reasoning.decoherence_ceiling"),
	})

	go b.Start(ctx)
	go monitor.Start(ctx)
	go engine.Consume(ctx, b.Subscribe())
	go snapshotLoop(ctx, s)
	go shippingLoop(ctx, s)

	srv := service.NewMeshServer(s, gw, engine, b, m)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(listenAddr()) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return srv.Shutdown()
	}
}

/*
restoreState brings the store up to date: the latest advisory snapshot is
loaded when one is usable, then only the archive frames past its version
are replayed, so restarts don't pay for a full audit replay. The archive
stays the source of truth; an unreadable or inconsistent snapshot just
means a full rebuild.
*/
func restoreState(ctx context.Context, auditLog *archive.Log) (*store.Store, *store.Writer, *store.StabilityWriter, error) {
	s, writer, stabilityWriter := store.New()

	snapPath := viper.GetString("snapshot.path")
	if CheckFileExists(snapPath) {
		if err := writer.Restore(snapPath); err != nil {
			log.Warn("ignoring unreadable snapshot", "path", snapPath, "error", err)
		} else if s.Version() > auditLog.Len() {
			log.Warn("snapshot ahead of archive, rebuilding from scratch",
				"snapshot_version", s.Version(), "frames", auditLog.Len())
			s, writer, stabilityWriter = store.New()
		}
	}

	fromSeq := s.Version()
	skipped, err := auditLog.Rebuild(ctx, fromSeq, writer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to rebuild store from archive: %w", err)
	}
	if len(skipped) > 0 {
		log.Warn("rebuilt with gaps", "skipped_frames", len(skipped))
	}
	log.Info("store restored",
		"concepts", s.Len(), "from_seq", fromSeq, "frames", auditLog.Len())

	return s, writer, stabilityWriter, nil
}

func openArchive() (*archive.Log, error) {
	path := archivePathFlag
	if path == "" {
		path = viper.GetString("archive.path")
	}

	var key []byte
	if hexKey := viper.GetString("archive.key"); hexKey != "" {
		var err error
		if key, err = hex.DecodeString(hexKey); err != nil {
			return nil, fmt.Errorf("archive.key must be hex-encoded: %w", err)
		}
	}

	return archive.Open(path, key)
}

func listenAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	return viper.GetString("server.addr")
}

// snapshotLoop periodically persists an advisory store snapshot for fast
// external inspection. The archive stays the source of truth.
func snapshotLoop(ctx context.Context, s *store.Store) {
	interval := viper.GetDuration("snapshot.interval")
	if interval <= 0 {
		return
	}
	path := viper.GetString("snapshot.path")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.SaveSnapshot(path); err != nil {
				log.Error("failed to save final snapshot", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.SaveSnapshot(path); err != nil {
				log.Error("failed to save snapshot", "error", err)
			}
		}
	}
}

// shippingLoop uploads the archive and the latest snapshot to object
// storage on a fixed interval. Best-effort: failures are logged and the
// next tick tries again.
func shippingLoop(ctx context.Context, s *store.Store) {
	if !viper.GetBool("shipping.enabled") {
		return
	}

	shipper, err := archive.NewShipper(ctx, archive.ShipperConfig{
		Endpoint:  viper.GetString("shipping.endpoint"),
		AccessKey: viper.GetString("shipping.access_key"),
		SecretKey: viper.GetString("shipping.secret_key"),
		Bucket:    viper.GetString("shipping.bucket"),
		UseSSL:    viper.GetBool("shipping.use_ssl"),
	})
	if err != nil {
		log.Error("shipping disabled, object storage unreachable", "error", err)
		return
	}

	interval := viper.GetDuration("shipping.interval")
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := shipper.ShipFile(ctx, "archive", viper.GetString("archive.path")); err != nil {
				continue
			}
			snapPath := viper.GetString("snapshot.path")
			if CheckFileExists(snapPath) {
				_, _ = shipper.ShipFile(ctx, "snapshot", snapPath)
			}
		}
	}
}

var longServe = `
Serve the concept mesh over HTTP.

The serve command rebuilds the in-memory mesh from the audit archive,
then exposes the mutation gateway, read queries, stability-aware path
building and the spectral event stream.

Examples:
  # Serve on the default address from ~/.mesh-go/config.yml
  mesh-go serve

  # Serve on a specific address with a specific archive file
  mesh-go serve --addr :8080 --archive /var/lib/mesh/mesh.archive
`
