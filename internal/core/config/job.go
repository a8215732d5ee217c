package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/adbatch/internal/core/domain"
)

// JobConfig describes one "create N copies" request.
type JobConfig struct {
	GroupID          string         `yaml:"group_id"`
	OriginalParentID string         `yaml:"original_parent_id"`
	Count            int            `yaml:"count"`
	NamePrefix       string         `yaml:"name_prefix"`
	StartIndex       int            `yaml:"start_index"` // first copy number, default 1
	MediaVariants    int            `yaml:"media_variants"`
	Parent           map[string]any `yaml:"parent"`
	Child            map[string]any `yaml:"child"`
}

// LoadJob reads a job file.
func LoadJob(path string) (*JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var job JobConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &job); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if job.StartIndex == 0 {
		job.StartIndex = 1
	}
	if job.GroupID == "" {
		return nil, errors.New("job group_id is required")
	}
	if job.Count <= 0 {
		return nil, errors.New("job count must be positive")
	}
	if job.NamePrefix == "" {
		return nil, errors.New("job name_prefix is required")
	}
	return &job, nil
}

// CopyName returns the conventional name of copy n.
func CopyName(prefix string, n int) string {
	return fmt.Sprintf("%s - Copy %d", prefix, n)
}

// Pairs expands the job into pair specs named "<prefix> - Copy <n>".
func (j *JobConfig) Pairs() []domain.PairSpec {
	parent := normalize(j.Parent).(map[string]any)
	child := normalize(j.Child).(map[string]any)

	specs := make([]domain.PairSpec, j.Count)
	for i := range specs {
		specs[i] = domain.PairSpec{
			Name:          CopyName(j.NamePrefix, j.StartIndex+i),
			ParentBody:    clone(parent),
			ChildBody:     clone(child),
			MediaVariants: j.MediaVariants,
		}
	}
	return specs
}

// normalize turns the map[interface{}]interface{} values yaml.v2 produces
// into map[string]any so bodies can be JSON encoded.
func normalize(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
