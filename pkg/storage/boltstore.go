package storage

import (
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/types"
)

var (
	bucketWorkflows          = []byte("workflows")
	bucketPipelineExecutions = []byte("pipeline_executions")
	bucketSandboxes          = []byte("sandboxes")
	bucketAuditLog           = []byte("audit_log")
)

// BoltStore implements Store on top of go.etcd.io/bbolt.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "orbital.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, orbitalerrors.StorageError("open "+dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkflows, bucketPipelineExecutions, bucketSandboxes, bucketAuditLog} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, orbitalerrors.StorageError("create buckets", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, id string, v any) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

// Workflows

func (s *BoltStore) CreateWorkflow(wf *types.Workflow) error {
	err := s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketWorkflows, wf.ID, wf) })
	if err != nil {
		return orbitalerrors.StorageError("create workflow "+wf.ID, err)
	}
	return nil
}

func (s *BoltStore) GetWorkflow(id string) (*types.Workflow, error) {
	var wf types.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkflows).Get([]byte(id))
		if data == nil {
			return orbitalerrors.NotFound("workflow", id)
		}
		return json.Unmarshal(data, &wf)
	})
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *BoltStore) ListWorkflows() ([]*types.Workflow, error) {
	var out []*types.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
			var wf types.Workflow
			if err := json.Unmarshal(v, &wf); err != nil {
				return err
			}
			out = append(out, &wf)
			return nil
		})
	})
	if err != nil {
		return nil, orbitalerrors.StorageError("list workflows", err)
	}
	return out, nil
}

func (s *BoltStore) ListWorkflowsByState(state types.WorkflowState) ([]*types.Workflow, error) {
	all, err := s.ListWorkflows()
	if err != nil {
		return nil, err
	}
	var out []*types.Workflow
	for _, wf := range all {
		if wf.State == state {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateWorkflow(wf *types.Workflow) error {
	return s.CreateWorkflow(wf)
}

func (s *BoltStore) DeleteWorkflow(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkflows).Delete([]byte(id))
	})
	if err != nil {
		return orbitalerrors.StorageError("delete workflow "+id, err)
	}
	return nil
}

// Pipeline executions

func (s *BoltStore) CreatePipelineExecution(p *types.PipelineExecution) error {
	err := s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketPipelineExecutions, p.ID, p) })
	if err != nil {
		return orbitalerrors.StorageError("create pipeline execution "+p.ID, err)
	}
	return nil
}

func (s *BoltStore) GetPipelineExecution(id string) (*types.PipelineExecution, error) {
	var p types.PipelineExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPipelineExecutions).Get([]byte(id))
		if data == nil {
			return orbitalerrors.NotFound("pipeline_execution", id)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPipelineExecutionsByWorkflow(workflowID string) ([]*types.PipelineExecution, error) {
	var out []*types.PipelineExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPipelineExecutions).ForEach(func(k, v []byte) error {
			var p types.PipelineExecution
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.WorkflowID == workflowID {
				out = append(out, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, orbitalerrors.StorageError("list pipeline executions for "+workflowID, err)
	}
	return out, nil
}

func (s *BoltStore) UpdatePipelineExecution(p *types.PipelineExecution) error {
	return s.CreatePipelineExecution(p)
}

// Sandboxes

func (s *BoltStore) CreateSandbox(sb *types.Sandbox) error {
	err := s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketSandboxes, sb.ID, sb) })
	if err != nil {
		return orbitalerrors.StorageError("create sandbox "+sb.ID, err)
	}
	return nil
}

func (s *BoltStore) GetSandbox(id string) (*types.Sandbox, error) {
	var sb types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSandboxes).Get([]byte(id))
		if data == nil {
			return orbitalerrors.NotFound("sandbox", id)
		}
		return json.Unmarshal(data, &sb)
	})
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

func (s *BoltStore) ListSandboxesByWorkflow(workflowID string) ([]*types.Sandbox, error) {
	all, err := s.ListSandboxes()
	if err != nil {
		return nil, err
	}
	var out []*types.Sandbox
	for _, sb := range all {
		if sb.WorkflowID == workflowID {
			out = append(out, sb)
		}
	}
	return out, nil
}

func (s *BoltStore) ListSandboxes() ([]*types.Sandbox, error) {
	var out []*types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandboxes).ForEach(func(k, v []byte) error {
			var sb types.Sandbox
			if err := json.Unmarshal(v, &sb); err != nil {
				return err
			}
			out = append(out, &sb)
			return nil
		})
	})
	if err != nil {
		return nil, orbitalerrors.StorageError("list sandboxes", err)
	}
	return out, nil
}

func (s *BoltStore) UpdateSandbox(sb *types.Sandbox) error {
	return s.CreateSandbox(sb)
}

func (s *BoltStore) DeleteSandbox(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandboxes).Delete([]byte(id))
	})
	if err != nil {
		return orbitalerrors.StorageError("delete sandbox "+id, err)
	}
	return nil
}

// Audit log

func (s *BoltStore) AppendAuditEntry(entry *AuditEntry) error {
	err := s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketAuditLog, entry.ID, entry) })
	if err != nil {
		return orbitalerrors.StorageError("append audit entry "+entry.ID, err)
	}
	return nil
}

func (s *BoltStore) ListAuditEntriesByWorkflow(workflowID string) ([]*AuditEntry, error) {
	var out []*AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAuditLog).ForEach(func(k, v []byte) error {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.WorkflowID == workflowID {
				out = append(out, &entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, orbitalerrors.StorageError("list audit entries for "+workflowID, err)
	}
	return out, nil
}
