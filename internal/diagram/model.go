package diagram

// NodeKind classifies a diagram node by the kind of action it draws.
type NodeKind string

const (
	NodeKindAction  NodeKind = "action"
	NodeKindFilter  NodeKind = "filter"
	NodeKindSplit   NodeKind = "split"
	NodeKindTrigger NodeKind = "trigger"
	NodeKindEnd     NodeKind = "end"
)

// Step statuses drawn from a run.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusFiltered = "filtered"
	StatusRunning  = "running"
	StatusSkipped  = "skipped"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one action of the automation. Its ID is the step path.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // split paths
}

// SubGraph holds the actions of one path of a split.
type SubGraph struct {
	ID     string
	Label  string
	Status *StatusOverlay // the path decision
	Nodes  []*Node
	Edges  []Edge
}

// StatusOverlay carries the recorded state of a step.
type StatusOverlay struct {
	Status string
	Error  string
}

// Edge represents the order between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
