// Package file provides a JSON-on-disk persistence implementation, used for
// tests and local development.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tideflow-io/tideflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
// Every aggregate lives in its own directory as one JSON document per record.
type Persistence struct {
	root string
	mu   sync.RWMutex

	definitions *DefinitionRepository
	versions    *VersionRepository
	instances   *InstanceRepository
	logs        *ExecutionLogRepository
	approvals   *ApprovalRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A "file://" prefix is tolerated.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.definitions = &DefinitionRepository{store: p}
	p.versions = &VersionRepository{store: p}
	p.instances = &InstanceRepository{store: p}
	p.logs = &ExecutionLogRepository{store: p}
	p.approvals = &ApprovalRepository{store: p}

	return p
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitions
}

func (p *Persistence) Versions() persistence.VersionRepository {
	return p.versions
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return p.instances
}

func (p *Persistence) ExecutionLogs() persistence.ExecutionLogRepository {
	return p.logs
}

func (p *Persistence) Approvals() persistence.ApprovalRepository {
	return p.approvals
}

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) write(kind, id string, record any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Join(p.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

func (p *Persistence) read(kind, id string, record any, notFound error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(p.root, kind, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}

	if err := json.Unmarshal(data, record); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}

	return nil
}

// readAll decodes every record of a kind via the decode callback.
func (p *Persistence) readAll(kind string, decode func(data []byte) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(p.root, kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to list %s directory: %w", kind, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.root, kind, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s %s: %w", kind, entry.Name(), err)
		}

		if err := decode(data); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", kind, entry.Name(), err)
		}
	}

	return nil
}
