// Package rerun finds step outputs persisted by earlier attempts of the same
// request so that a rerun can skip work that already succeeded.
package rerun

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/bucket"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
)

var rerunSuffix = regexp.MustCompile(`^(.+)_rerun_(\d+)\.json$`)

// SelectLatestRerun picks the artifact with the highest rerun number for base.
// Without any rerun artifact it falls back to {base}.json. Keys are compared
// on their last path element.
func SelectLatestRerun(keys []string, base string) (string, bool) {
	latest, found := -1, ""
	for _, key := range keys {
		m := rerunSuffix.FindStringSubmatch(path.Base(key))
		if m == nil || m[1] != base {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err == nil && n > latest {
			latest, found = n, key
		}
	}
	if found != "" {
		return found, true
	}

	for _, key := range keys {
		if path.Base(key) == base+".json" {
			return key, true
		}
	}
	return "", false
}

// Prior is a step output written by an earlier attempt. Output holds the
// decoded artifact: a *models.ParsedDocument for document artifacts, otherwise
// the plain JSON value (map, slice, scalar or nil).
type Prior struct {
	Key    string
	Status models.StepStatus
	Output any
}

// Reusable reports whether a prior artifact may stand in for a fresh run.
// Artifacts written before step_status existed are trusted.
func Reusable(p *Prior) bool {
	return p != nil && (p.Status == "" || p.Status == models.StatusSuccess)
}

// Lookup identifies the step output a rerun is looking for.
type Lookup struct {
	RequestID    string
	File         models.FileRecord
	Step         models.WorkflowStep
	StepConfig   bucket.StepConfig
	RerunAttempt int
	MasterData   bool
}

// Cache reads prior step outputs from the target bucket.
type Cache struct {
	gateway *objectstore.Gateway
	logger  *slog.Logger
	now     func() time.Time
}

func NewCache(gateway *objectstore.Gateway, logger *slog.Logger) *Cache {
	return &Cache{gateway: gateway, logger: logger, now: time.Now}
}

// WithClock pins the clock used for the date segment of the key prefix.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// LoadPriorStepResult returns the latest artifact written by an earlier attempt
// of the step, or nil. It never decides whether the artifact is reused; the
// stored step_status is only logged.
func (c *Cache) LoadPriorStepResult(ctx context.Context, l Lookup) *Prior {
	if l.RerunAttempt <= 1 {
		return nil
	}
	prior := l.RerunAttempt - 1

	logCtx := c.logger.With(
		"requestId", l.RequestID,
		"stepName", l.Step.StepName,
		"rerunAttempt", l.RerunAttempt,
	)

	prefix, err := bucket.ObjectKey(bucket.KeyParams{
		RequestID:    l.RequestID,
		File:         l.File,
		Step:         &l.Step,
		StepConfig:   l.StepConfig,
		RerunAttempt: prior,
		MasterData:   l.MasterData,
		Now:          c.now,
	})
	if err != nil {
		logCtx.Warn("Could not build step prefix. Will rerun.", "error", err)
		return nil
	}

	keys := c.gateway.List(ctx, l.File.TargetBucketName, prefix)
	key, ok := SelectLatestRerun(keys, l.File.FileNameWoExt)
	if !ok {
		logCtx.Info("No prior step output found. Will rerun.", "prefix", prefix)
		return nil
	}

	var data json.RawMessage
	if !c.gateway.ReadJSON(ctx, l.File.TargetBucketName, key, &data) {
		logCtx.Info("Prior step output unreadable. Will rerun.", "key", key)
		return nil
	}
	p, err := decodeArtifact(data)
	if err != nil {
		logCtx.Info("Prior step output unreadable. Will rerun.", "key", key, "error", err)
		return nil
	}
	p.Key = key
	if doc, ok := p.Output.(*models.ParsedDocument); ok {
		doc.JSONOutput = key
	}

	if p.Status == models.StatusSuccess {
		logCtx.Info("Prior attempt succeeded. Skipping.", "priorAttempt", prior, "key", key)
	} else {
		logCtx.Info("Prior attempt did not succeed. Will rerun.", "priorAttempt", prior, "stepStatus", string(p.Status), "key", key)
	}
	return p
}

// envelopeFields are the keys of a models.StepOutput as written to storage.
// Object outputs are stored unwrapped; anything else keeps the envelope.
var envelopeFields = map[string]bool{
	"output":               true,
	"step_status":          true,
	"step_failure_message": true,
}

// documentFields mark an object as a serialized models.ParsedDocument.
var documentFields = []string{"original_file_path", "items"}

// decodeArtifact turns a stored step output back into the value the step
// returned.
func decodeArtifact(data []byte) (*Prior, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return &Prior{Output: value}, nil
	}

	if isEnvelope(obj) {
		status, _ := obj["step_status"].(string)
		return &Prior{Status: models.StepStatus(status), Output: obj["output"]}, nil
	}

	status, _ := obj["step_status"].(string)
	p := &Prior{Status: models.StepStatus(status), Output: obj}
	if isDocument(obj) {
		var doc models.ParsedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		p.Output = &doc
	}
	return p, nil
}

func isEnvelope(obj map[string]any) bool {
	if _, ok := obj["step_status"]; !ok {
		return false
	}
	output, ok := obj["output"]
	if !ok {
		return false
	}
	if _, nested := output.(map[string]any); nested {
		return false
	}
	for k := range obj {
		if !envelopeFields[k] {
			return false
		}
	}
	return true
}

func isDocument(obj map[string]any) bool {
	for _, field := range documentFields {
		if _, ok := obj[field]; !ok {
			return false
		}
	}
	return true
}
