// Package driver wires together a backend, a resolved Config, and one of
// the two anonymization algorithms, then persists the result. Nothing
// here is consumed by the core; it is the one place that is allowed to
// know about concrete backends, algorithm selection, and file paths.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/majkutK-unitn/anonymization-module/backend"
	"github.com/majkutK-unitn/anonymization-module/backend/memdoc"
	"github.com/majkutK-unitn/anonymization-module/backend/relational"
	"github.com/majkutK-unitn/anonymization-module/config"
	"github.com/majkutK-unitn/anonymization-module/datafly"
	"github.com/majkutK-unitn/anonymization-module/internal/clierr"
	"github.com/majkutK-unitn/anonymization-module/mondrian"
	"github.com/majkutK-unitn/anonymization-module/partition"
)

// Algorithm names accepted on the CLI.
const (
	AlgorithmMondrian = "mondrian"
	AlgorithmDatafly  = "datafly"
)

// Backend kinds accepted on the CLI.
const (
	BackendMemdoc     = "memdoc"
	BackendRelational = "relational"
)

// Options describes one run of the driver, gathered from CLI flags.
type Options struct {
	Algorithm string
	Backend   string

	ConfigPath string

	// InputPath is the source JSON document array (both backends read
	// the same on-disk record shape; relational additionally loads it
	// into a SQLite table first).
	InputPath string

	// OutputPath is where memdoc writes its anonymized JSON array.
	// Ignored by the relational backend, which publishes into its own
	// "anonymized" table instead.
	OutputPath string

	// DBPath is the SQLite database file used by the relational
	// backend. Ignored by memdoc.
	DBPath string
}

// Report is what the driver hands back to the CLI once a run has
// finished successfully.
type Report struct {
	Algorithm       string
	K               int
	DatasetSize     int
	PartitionCount  int
	NCP             float64
	Partitions      []*partition.Partition
	QIDNames        []string
}

// jsonRecord is the on-disk shape shared by both backends' source files.
type jsonRecord struct {
	UUID        string            `json:"uuid"`
	Categorical map[string]string `json:"categorical"`
	Numeric     map[string]int    `json:"numeric"`
	Sensitive   map[string]string `json:"sensitive"`
}

// Run loads configuration, builds the selected backend, resolves Config
// against it, runs the selected algorithm, and persists the result.
// queryLog receives one record per backend aggregate query; pass nil to
// discard them.
func Run(ctx context.Context, opts Options, log, queryLog *slog.Logger) (*Report, error) {
	runID := uuid.New().String()
	log = log.With("run_id", runID)
	if queryLog != nil {
		queryLog = queryLog.With("run_id", runID)
	}

	raw, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, clierr.NewConfigError("load configuration", err)
	}

	be, closeBackend, err := openBackend(ctx, opts, raw, queryLog)
	if err != nil {
		return nil, err
	}
	defer closeBackend()

	cfg, err := config.Resolve(ctx, raw, be)
	if err != nil {
		return nil, clierr.NewConfigError("resolve configuration", err)
	}
	log.Info("configuration resolved", "k", cfg.K, "qids", cfg.QIDNames, "dataset_size", cfg.DatasetSize)

	partitions, ncp, err := runAlgorithm(ctx, opts.Algorithm, be, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("anonymization complete", "algorithm", opts.Algorithm, "partitions", len(partitions), "ncp", ncp)

	if err := be.PushPartitions(ctx, partitions); err != nil {
		return nil, clierr.NewBackendError("persist anonymized output", err)
	}

	return &Report{
		Algorithm:      opts.Algorithm,
		K:              cfg.K,
		DatasetSize:    cfg.DatasetSize,
		PartitionCount: len(partitions),
		NCP:            ncp,
		Partitions:     partitions,
		QIDNames:       cfg.QIDNames,
	}, nil
}

func runAlgorithm(ctx context.Context, algorithm string, be backend.Backend, cfg *config.Config) ([]*partition.Partition, float64, error) {
	switch algorithm {
	case AlgorithmMondrian:
		result, err := mondrian.Run(ctx, be, cfg)
		if err != nil {
			return nil, 0, classifyAlgorithmError("mondrian", err)
		}
		return result.Partitions, result.NCP, nil

	case AlgorithmDatafly:
		result, err := datafly.Run(ctx, be, cfg)
		if err != nil {
			return nil, 0, classifyAlgorithmError("datafly", err)
		}
		return result.Partitions, result.NCP, nil

	default:
		return nil, 0, clierr.NewConfigError("select algorithm", fmt.Errorf("unknown algorithm %q (want %q or %q)", algorithm, AlgorithmMondrian, AlgorithmDatafly))
	}
}

// classifyAlgorithmError wraps every algorithm failure as an invariant
// violation. Mondrian and Datafly also return errors from the backend
// calls they make during the run; those are wrapped the same way and
// are not told apart from invariant violations. The split-unproductive
// case is signaled internally and never reaches the driver as an error.
func classifyAlgorithmError(operation string, err error) error {
	return clierr.NewInvariantError(operation, err)
}

// openBackend constructs the requested backend and, for relational,
// loads the source records into its table first. The returned func
// releases any backend resource (file locks, the SQLite connection).
func openBackend(ctx context.Context, opts Options, raw config.RawConfig, queryLog *slog.Logger) (backend.Backend, func(), error) {
	switch opts.Backend {
	case BackendMemdoc:
		store, err := memdoc.New(opts.InputPath, opts.OutputPath, queryLog)
		if err != nil {
			return nil, nil, clierr.NewBackendError("open memdoc backend", err)
		}
		return store, func() {}, nil

	case BackendRelational:
		qidKinds, sensitiveNames := relationalSchema(raw)
		store, err := relational.Open(opts.DBPath, qidKinds, sensitiveNames, queryLog)
		if err != nil {
			return nil, nil, clierr.NewBackendError("open relational backend", err)
		}
		rows, err := readRelationalRows(opts.InputPath)
		if err != nil {
			store.Close()
			return nil, nil, clierr.NewBackendError("read source records", err)
		}
		if err := store.LoadRows(ctx, rows); err != nil {
			store.Close()
			return nil, nil, clierr.NewBackendError("load source records", err)
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, clierr.NewConfigError("select backend", fmt.Errorf("unknown backend %q (want %q or %q)", opts.Backend, BackendMemdoc, BackendRelational))
	}
}

// relationalSchema derives the relational backend's column-affinity map
// and sensitive-attribute list from the raw, unresolved configuration,
// the one piece of schema the backend needs before Config itself exists.
func relationalSchema(raw config.RawConfig) (map[string]relational.Kind, []string) {
	kinds := make(map[string]relational.Kind, len(raw.QIDs))
	for _, q := range raw.QIDs {
		if q.Type == config.TypeHierarchical {
			kinds[q.Name] = relational.KindCategorical
		} else {
			kinds[q.Name] = relational.KindNumeric
		}
	}
	return kinds, append([]string(nil), raw.SensitiveAttributes...)
}

func readRelationalRows(path string) ([]relational.Row, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var records []jsonRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	rows := make([]relational.Row, len(records))
	for i, r := range records {
		id := r.UUID
		if id == "" {
			id = uuid.New().String()
		}
		rows[i] = relational.Row{
			UUID:        id,
			Categorical: r.Categorical,
			Numeric:     r.Numeric,
			Sensitive:   r.Sensitive,
		}
	}
	return rows, nil
}
