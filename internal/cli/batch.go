package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const defaultBatchConfigName = "uaedb.yaml"

// batchJob is one entry in a batch config file: the same inputs the default
// command takes positionally, plus the same flags, addressable by name so
// a config can selectively re-run jobs with --job.
type batchJob struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Patch  string `yaml:"patch"`
	Output string `yaml:"output"`
	Entry  string `yaml:"entry"`

	Xdelta    string `yaml:"xdelta" default:""`
	KeepWork  bool   `yaml:"keep_work" default:"false"`
	SkipCache bool   `yaml:"no_cache" default:"false"`
}

// CmdBatch runs every job listed in a YAML config through the same
// orchestrator path runPatch uses, grounded on the teacher's CmdBuild batch
// driver over per-project pack jobs (SPEC_FULL.md domain-stack addition 1).
type CmdBatch struct {
	Args struct {
		Path string `positional-arg-name:"path" description:"Path to batch config file (default: ./uaedb.yaml)"`
	} `positional-args:"yes"`

	Only []string `short:"j" long:"job" description:"Run only selected job names (repeatable)"`
}

// Execute runs the batch command.
func (c *CmdBatch) Execute(args []string) error {
	return runBatch(c)
}

func runBatch(opts *CmdBatch) error {
	configPath, err := resolveBatchConfigPath(opts.Args.Path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	jobs, err := parseBatchJobs(data)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no jobs found in %q", configPath)
	}

	baseDir := filepath.Dir(configPath)
	selected, err := filterBatchJobs(jobs, opts.Only, baseDir)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return fmt.Errorf("no jobs selected")
	}

	for _, job := range selected {
		if err := runBatchJob(&job); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}

	return nil
}

func runBatchJob(job *batchJob) error {
	root := &Root{
		Uncompress: "",
		Entry:      job.Entry,
		Xdelta:     job.Xdelta,
		KeepWork:   job.KeepWork,
		SkipCache:  job.SkipCache,
	}
	root.Args.Source = job.Source
	root.Args.Patch = job.Patch
	root.Args.Output = job.Output

	return runPatch(root)
}

func resolveBatchConfigPath(arg string) (string, error) {
	if strings.TrimSpace(arg) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get cwd: %w", err)
		}
		path := filepath.Join(cwd, defaultBatchConfigName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config not found: %s", path)
		}
		return path, nil
	}

	info, err := os.Stat(arg)
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}
	if info.IsDir() {
		path := filepath.Join(arg, defaultBatchConfigName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config not found: %s", path)
		}
		return path, nil
	}

	return arg, nil
}

func parseBatchJobs(data []byte) ([]batchJob, error) {
	var doc struct {
		Jobs []batchJob `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Jobs) > 0 {
		return doc.Jobs, nil
	}

	var list []batchJob
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func filterBatchJobs(jobs []batchJob, only []string, baseDir string) ([]batchJob, error) {
	for i := range jobs {
		if err := defaults.Set(&jobs[i]); err != nil {
			return nil, fmt.Errorf("apply defaults: %w", err)
		}
		normalizeBatchJobPaths(&jobs[i], baseDir)
	}
	if len(only) == 0 {
		return jobs, nil
	}

	onlySet := make(map[string]struct{}, len(only))
	for _, name := range only {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		onlySet[name] = struct{}{}
	}
	if len(onlySet) == 0 {
		return nil, fmt.Errorf("no valid --job values")
	}

	out := make([]batchJob, 0, len(jobs))
	for _, job := range jobs {
		name, err := resolveBatchJobName(&job)
		if err != nil {
			return nil, err
		}
		if _, ok := onlySet[name]; ok {
			out = append(out, job)
		}
	}

	return out, nil
}

func resolveBatchJobName(job *batchJob) (string, error) {
	if strings.TrimSpace(job.Name) != "" {
		return job.Name, nil
	}
	if strings.TrimSpace(job.Source) == "" {
		return "", fmt.Errorf("job source is required when name is empty")
	}
	absSource, err := filepath.Abs(job.Source)
	if err != nil {
		return "", fmt.Errorf("abs source: %w", err)
	}
	return filepath.Base(absSource), nil
}

func normalizeBatchJobPaths(job *batchJob, baseDir string) {
	job.Source = resolveBatchRelativePath(baseDir, job.Source)
	job.Patch = resolveBatchRelativePath(baseDir, job.Patch)
	job.Output = resolveBatchRelativePath(baseDir, job.Output)
}

func resolveBatchRelativePath(baseDir, path string) string {
	if strings.TrimSpace(path) == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
