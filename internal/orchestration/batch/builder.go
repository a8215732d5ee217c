// Package batch turns pair specs into grouped operations, submits them and
// classifies what came back.
package batch

import (
	"fmt"
	"maps"
	"net/http"

	"github.com/vietddude/adbatch/internal/core/domain"
)

// BuilderConfig names the collections and reference fields used in bodies.
type BuilderConfig struct {
	AccountID      string // e.g. "act_123"; parents and children are created under it
	ParentEdge     string
	ChildEdge      string
	ParentRefField string // child body field holding the parent id
	GroupRefField  string // parent body field holding the group id
}

// DefaultBuilderConfig matches the campaign → ad set → ad hierarchy.
var DefaultBuilderConfig = BuilderConfig{
	ParentEdge:     "adsets",
	ChildEdge:      "ads",
	ParentRefField: "adset_id",
	GroupRefField:  "campaign_id",
}

// Builder emits create and delete operations.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a builder, filling unset fields from DefaultBuilderConfig.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.ParentEdge == "" {
		cfg.ParentEdge = DefaultBuilderConfig.ParentEdge
	}
	if cfg.ChildEdge == "" {
		cfg.ChildEdge = DefaultBuilderConfig.ChildEdge
	}
	if cfg.ParentRefField == "" {
		cfg.ParentRefField = DefaultBuilderConfig.ParentRefField
	}
	if cfg.GroupRefField == "" {
		cfg.GroupRefField = DefaultBuilderConfig.GroupRefField
	}
	return &Builder{cfg: cfg}
}

// ParentOpName is the name of the i-th parent create inside a group.
func ParentOpName(i int) string {
	return fmt.Sprintf("create-parent-%d", i)
}

// BuildPairs emits 2*len(specs) operations interleaved parent, child. Child i
// references parent i by result reference, so indices are local to specs and
// the slice must be submitted as one group.
func (b *Builder) BuildPairs(groupID string, specs []domain.PairSpec) []domain.Operation {
	ops := make([]domain.Operation, 0, 2*len(specs))
	for i, spec := range specs {
		ops = append(ops,
			b.buildParent(groupID, spec, ParentOpName(i)),
			b.buildChild(domain.ResultRef(ParentOpName(i)), spec),
		)
	}
	return ops
}

// BuildChild builds a child create against an existing parent.
func (b *Builder) BuildChild(parentID string, spec domain.PairSpec) domain.Operation {
	return b.buildChild(parentID, spec)
}

func (b *Builder) buildParent(groupID string, spec domain.PairSpec, name string) domain.Operation {
	body := cloneBody(spec.ParentBody)
	if _, ok := body["name"]; !ok && spec.Name != "" {
		body["name"] = spec.Name
	}
	body[b.cfg.GroupRefField] = groupID

	return domain.Operation{
		Method: http.MethodPost,
		Path:   b.edgePath(groupID, b.cfg.ParentEdge),
		Body:   body,
		Name:   name,
	}
}

func (b *Builder) buildChild(parentRef string, spec domain.PairSpec) domain.Operation {
	body := cloneBody(spec.ChildBody)
	if _, ok := body["name"]; !ok && spec.Name != "" {
		body["name"] = spec.Name
	}
	body[b.cfg.ParentRefField] = parentRef

	return domain.Operation{
		Method: http.MethodPost,
		Path:   b.edgePath("", b.cfg.ChildEdge),
		Body:   body,
	}
}

func (b *Builder) edgePath(groupID, edge string) string {
	owner := b.cfg.AccountID
	if owner == "" {
		owner = groupID
	}
	if owner == "" {
		return edge
	}
	return owner + "/" + edge
}

func cloneBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body)+2)
	maps.Copy(out, body)
	return out
}
