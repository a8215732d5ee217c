// Package testutil provides an in-memory advertising platform for tests.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
)

var resultRef = regexp.MustCompile(`^\{result=([^:}]+):\$\.id\}$`)

// Platform is a fake Transport that keeps remote state in memory. It resolves
// result references inside a group and supports failure injection per
// object name.
type Platform struct {
	mu sync.Mutex

	nextID   int
	order    []string // creation order of all ids
	parents  map[string]*Object
	children map[string]*Object

	injections    []*injection
	submitErrors  []submitError
	deleteErrors  map[string]error
	submitCalls   [][]domain.Operation
	deleted       []string
	credentialLog []string
}

// Object is a remote parent or child.
type Object struct {
	ID       string
	Name     string
	GroupID  string
	ParentID string
}

type injection struct {
	edge      string
	name      string
	remaining int
	result    *domain.RawResult // nil means a null slot
	commit    bool
}

type submitError struct {
	err    error
	commit bool
}

// NewPlatform creates an empty platform.
func NewPlatform() *Platform {
	return &Platform{
		nextID:       1000,
		parents:      make(map[string]*Object),
		children:     make(map[string]*Object),
		deleteErrors: make(map[string]error),
	}
}

// NewClient wires a rotating client with one unlimited credential over p.
func NewClient(t testing.TB, p *Platform) *rpc.Client {
	t.Helper()
	pool, err := rpc.NewPool([]domain.Credential{
		{ID: "test", Priority: 1, OwnsToken: true, Token: "test-token"},
	}, rpc.PoolConfig{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return rpc.NewClient(p, rpc.NewCoordinator(pool))
}

// ErrorBody renders a platform error envelope.
func ErrorBody(code int, message string, transient bool) string {
	return fmt.Sprintf(`{"error":{"message":%q,"type":"OAuthException","code":%d,"is_transient":%t}}`,
		message, code, transient)
}

// FailCreate makes the next times creates on edge for name fail without
// committing.
func (p *Platform) FailCreate(edge, name string, times int, code int, body string) {
	p.inject(&injection{edge: edge, name: name, remaining: times, result: &domain.RawResult{Code: code, Body: body}})
}

// AmbiguousCreate commits the create but reports a transient 5xx.
func (p *Platform) AmbiguousCreate(edge, name string, times int) {
	p.inject(&injection{
		edge:      edge,
		name:      name,
		remaining: times,
		result:    &domain.RawResult{Code: 500, Body: ErrorBody(2, "An unexpected error has occurred", true)},
		commit:    true,
	})
}

// CommittedFailure commits the create but reports code and body as a failure.
func (p *Platform) CommittedFailure(edge, name string, times int, code int, body string) {
	p.inject(&injection{
		edge:      edge,
		name:      name,
		remaining: times,
		result:    &domain.RawResult{Code: code, Body: body},
		commit:    true,
	})
}

// NullResult commits the create but returns no result for the slot.
func (p *Platform) NullResult(edge, name string, times int) {
	p.inject(&injection{edge: edge, name: name, remaining: times, commit: true})
}

// FailNextSubmit makes the next grouped request fail at request level. With
// commit set the operations are applied before the error is returned.
func (p *Platform) FailNextSubmit(err error, commit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitErrors = append(p.submitErrors, submitError{err: err, commit: commit})
}

// FailDelete makes deletes of id fail with err.
func (p *Platform) FailDelete(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteErrors[id] = err
}

func (p *Platform) inject(inj *injection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injections = append(p.injections, inj)
}

// Seed creates a parent, and a child when withChild is set, returning the parent id.
func (p *Platform) Seed(groupID, name string, withChild bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	parent := p.createLocked(p.parents, &Object{Name: name, GroupID: groupID})
	if withChild {
		p.createLocked(p.children, &Object{Name: name, GroupID: groupID, ParentID: parent.ID})
	}
	return parent.ID
}

// AddChild creates one more child under the parent named parentName and
// returns the child id, or "" when no such parent exists.
func (p *Platform) AddChild(groupID, parentName string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.order {
		parent, ok := p.parents[id]
		if ok && parent.GroupID == groupID && parent.Name == parentName {
			return p.createLocked(p.children, &Object{Name: parentName, GroupID: groupID, ParentID: parent.ID}).ID
		}
	}
	return ""
}

// SubmitGroup implements provider.Transport.
func (p *Platform) SubmitGroup(
	ctx context.Context,
	cred domain.Credential,
	ops []domain.Operation,
) ([]*domain.RawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submitCalls = append(p.submitCalls, ops)
	p.credentialLog = append(p.credentialLog, cred.ID)

	var reqErr *submitError
	if len(p.submitErrors) > 0 {
		reqErr = &p.submitErrors[0]
		p.submitErrors = p.submitErrors[1:]
		if !reqErr.commit {
			return nil, reqErr.err
		}
	}

	ids := make(map[string]string)
	results := make([]*domain.RawResult, len(ops))
	for i, op := range ops {
		results[i] = p.applyLocked(op, ids)
	}

	if reqErr != nil {
		return nil, reqErr.err
	}
	return results, nil
}

func (p *Platform) applyLocked(op domain.Operation, ids map[string]string) *domain.RawResult {
	body := make(map[string]string, len(op.Body))
	for k, v := range op.Body {
		s := fmt.Sprint(v)
		if m := resultRef.FindStringSubmatch(s); m != nil {
			id, ok := ids[m[1]]
			if !ok {
				return &domain.RawResult{Code: 400, Body: ErrorBody(100, "unresolved result reference "+m[1], false)}
			}
			s = id
		}
		body[k] = s
	}

	edge := op.Path[strings.LastIndex(op.Path, "/")+1:]
	name := body["name"]

	var committed *Object
	commit := func() {
		switch edge {
		case "adsets":
			committed = p.createLocked(p.parents, &Object{Name: name, GroupID: body["campaign_id"]})
		case "ads":
			parent, ok := p.parents[body["adset_id"]]
			if !ok {
				return
			}
			committed = p.createLocked(p.children, &Object{Name: name, GroupID: parent.GroupID, ParentID: parent.ID})
		}
	}

	if op.Method != http.MethodPost || (edge != "adsets" && edge != "ads") {
		return &domain.RawResult{Code: 400, Body: ErrorBody(100, "unsupported operation", false)}
	}

	if inj := p.takeInjectionLocked(edge, name); inj != nil {
		if inj.commit {
			commit()
			if committed != nil && op.Name != "" {
				ids[op.Name] = committed.ID
			}
		}
		if inj.result == nil {
			return nil
		}
		r := *inj.result
		return &r
	}

	commit()
	if committed == nil {
		return &domain.RawResult{Code: 400, Body: ErrorBody(100, "parent does not exist", false)}
	}
	if op.Name != "" {
		ids[op.Name] = committed.ID
	}
	return &domain.RawResult{Code: 200, Body: fmt.Sprintf(`{"id":"%s"}`, committed.ID)}
}

func (p *Platform) takeInjectionLocked(edge, name string) *injection {
	for _, inj := range p.injections {
		if inj.remaining > 0 && inj.edge == edge && inj.name == name {
			inj.remaining--
			return inj
		}
	}
	return nil
}

func (p *Platform) createLocked(into map[string]*Object, obj *Object) *Object {
	p.nextID++
	obj.ID = fmt.Sprintf("%d", p.nextID)
	into[obj.ID] = obj
	p.order = append(p.order, obj.ID)
	return obj
}

// ListParents implements provider.Transport.
func (p *Platform) ListParents(ctx context.Context, cred domain.Credential, groupID string) ([]domain.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked(p.parents, groupID), nil
}

// ListChildren implements provider.Transport.
func (p *Platform) ListChildren(ctx context.Context, cred domain.Credential, groupID string) ([]domain.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked(p.children, groupID), nil
}

func (p *Platform) listLocked(from map[string]*Object, groupID string) []domain.Node {
	var nodes []domain.Node
	for _, id := range p.order {
		if obj, ok := from[id]; ok && obj.GroupID == groupID {
			nodes = append(nodes, domain.Node{ID: obj.ID, Name: obj.Name, ParentID: obj.ParentID})
		}
	}
	return nodes
}

// Delete implements provider.Transport. Deleting a parent removes its children.
func (p *Platform) Delete(ctx context.Context, cred domain.Credential, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.deleteErrors[id]; err != nil {
		return err
	}

	if _, ok := p.parents[id]; ok {
		delete(p.parents, id)
		for cid, c := range p.children {
			if c.ParentID == id {
				delete(p.children, cid)
			}
		}
		p.deleted = append(p.deleted, id)
		return nil
	}
	if _, ok := p.children[id]; ok {
		delete(p.children, id)
		p.deleted = append(p.deleted, id)
		return nil
	}
	return &provider.APIError{StatusCode: 400, Code: 100, Subcode: 33, Message: "Unsupported delete request"}
}

// Parents returns the parents of a group, sorted by name.
func (p *Platform) Parents(groupID string) []Object {
	return p.snapshot(p.parents, groupID)
}

// Children returns the children of a group, sorted by name.
func (p *Platform) Children(groupID string) []Object {
	return p.snapshot(p.children, groupID)
}

func (p *Platform) snapshot(from map[string]*Object, groupID string) []Object {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Object
	for _, obj := range from {
		if obj.GroupID == groupID {
			out = append(out, *obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SubmitCalls returns every grouped request received.
func (p *Platform) SubmitCalls() [][]domain.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]domain.Operation(nil), p.submitCalls...)
}

// Credentials returns the credential id used by each grouped request.
func (p *Platform) Credentials() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.credentialLog...)
}

// Deleted returns ids removed through Delete.
func (p *Platform) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

var _ provider.Transport = (*Platform)(nil)
