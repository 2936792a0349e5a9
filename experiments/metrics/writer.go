package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dtsynth/family"
	"dtsynth/heuristic"
	"dtsynth/searcher"
)

type RunConfig struct {
	ID        int
	Heuristic heuristic.Config
	Direction family.Direction
	Limits    searcher.Limits
}

type RunRecord struct {
	ID     int
	Config int // RunConfig.ID
	Trial  int
	Result searcher.Result
}

type ImprovementRecord struct {
	Run               int // RunRecord.ID
	Timestamp         float64
	Value             float64
	FamiliesEvaluated int
}

type Setup struct {
	Name      string        `json:"name"`
	Trials    int           `json:"trials"` // per config
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}

type Writer struct {
	baseDir string
}

// NewWriter creates root/name/<timestamp> for the files of one experiment.
func NewWriter(root, name string) (*Writer, error) {
	timestamp := time.Now().UTC().Format("20060102T150405.000000000Z")
	baseDir := filepath.Join(root, name, timestamp)
	err := os.MkdirAll(baseDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Writer{
		baseDir: baseDir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

func (w *Writer) WriteSetup(setup Setup) error {
	path := filepath.Join(w.baseDir, "setup.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create setup file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(setup); err != nil {
		return fmt.Errorf("failed to write setup: %w", err)
	}
	return nil
}

func (w *Writer) WriteRunConfigs(configs []RunConfig) error {
	header := []string{"id", "heuristic", "alpha", "epsilon", "direction", "timeout", "max_families"}
	return w.writeCSV("run_configs.csv", header, len(configs), func(i int) []string {
		c := configs[i]
		return []string{
			strconv.Itoa(c.ID),
			string(c.Heuristic.Heuristic),
			formatFloat(c.Heuristic.Alpha),
			formatFloat(c.Heuristic.Epsilon),
			c.Direction.String(),
			c.Limits.Timeout.String(),
			strconv.Itoa(c.Limits.MaxFamilies),
		}
	})
}

func (w *Writer) WriteRunRecords(records []RunRecord) error {
	header := []string{"id", "config", "trial", "value", "assignment", "stopped", "explored",
		"families_evaluated", "improvements", "splits", "pruned", "dominated", "duration"}
	return w.writeCSV("run_records.csv", header, len(records), func(i int) []string {
		r := records[i]
		value, assignment := "", ""
		if r.Result.Value.Known() {
			value = formatFloat(r.Result.Value.Value)
		}
		if r.Result.Found() {
			assignment = r.Result.Assignment.Key()
		}
		return []string{
			strconv.Itoa(r.ID),
			strconv.Itoa(r.Config),
			strconv.Itoa(r.Trial),
			value,
			assignment,
			r.Result.Stopped.String(),
			strconv.FormatUint(r.Result.Explored, 10),
			strconv.Itoa(r.Result.FamiliesEvaluated),
			strconv.Itoa(r.Result.Improvements),
			strconv.FormatInt(r.Result.Metrics.Splits, 10),
			strconv.FormatInt(r.Result.Metrics.Pruned, 10),
			strconv.FormatInt(r.Result.Metrics.Dominated, 10),
			r.Result.Metrics.Duration.String(),
		}
	})
}

func (w *Writer) WriteImprovementRecords(records []ImprovementRecord) error {
	header := []string{"run", "timestamp", "value", "families_evaluated"}
	return w.writeCSV("improvement_records.csv", header, len(records), func(i int) []string {
		r := records[i]
		return []string{
			strconv.Itoa(r.Run),
			formatFloat(r.Timestamp),
			formatFloat(r.Value),
			strconv.Itoa(r.FamiliesEvaluated),
		}
	})
}

func (w *Writer) writeCSV(name string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(filepath.Join(w.baseDir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", name, err)
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return fmt.Errorf("failed to write %s row: %w", name, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
