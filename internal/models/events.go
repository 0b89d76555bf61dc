package models

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is the frame delivered on every subscription: a full snapshot
// of Added events first, then incremental deltas in commit order.
type ChangeEvent struct {
	Kind   ChangeKind `json:"kind"`
	Entity any        `json:"entity"`
}

func Added(entity any) ChangeEvent    { return ChangeEvent{Kind: ChangeAdded, Entity: entity} }
func Modified(entity any) ChangeEvent { return ChangeEvent{Kind: ChangeModified, Entity: entity} }
func Removed(entity any) ChangeEvent  { return ChangeEvent{Kind: ChangeRemoved, Entity: entity} }
