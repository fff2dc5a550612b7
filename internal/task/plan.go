package task

// InputSourceKind discriminates where a planned step's input comes from,
// mirroring the analyzer's {user, previous} vocabulary (spec §4.6).
type InputSourceKind string

const (
	InputSourceUser     InputSourceKind = "user"
	InputSourcePrevious InputSourceKind = "previous"
)

// InputMappingKind tags the variant held by an InputMapping.
type InputMappingKind string

const (
	MappingDirect       InputMappingKind = "Direct"
	MappingFromPrevious InputMappingKind = "FromPrevious"
	MappingTransform    InputMappingKind = "Transform"
	MappingMerge        InputMappingKind = "Merge"
)

// MergeSource names one contributor to a Merge mapping.
type MergeSource struct {
	StepID string `json:"stepId"`
	Field  string `json:"field,omitempty"`
}

// InputMapping is a tagged union over the four ways a step's input can be
// derived, per spec §3. Only the fields of the variant selected by Kind
// are meaningful — this mirrors the re-architecture note in spec §9
// replacing dynamic Record<string, unknown> payloads with statically typed
// variants resolved once at the boundary.
type InputMapping struct {
	Kind InputMappingKind `json:"kind"`

	DirectLiteral   map[string]any `json:"directLiteral,omitempty"`
	FromStepID      string         `json:"fromStepId,omitempty"`
	FromField       string         `json:"fromField,omitempty"`
	TransformInstr  string         `json:"transformInstruction,omitempty"`
	MergeSources    []MergeSource  `json:"mergeSources,omitempty"`
}

// StepStatus mirrors the subset of Status relevant to in-flight plan steps.
type StepStatus string

const (
	StepPending    StepStatus = "Pending"
	StepAuthorized StepStatus = "Authorized"
	StepRunning    StepStatus = "Running"
	StepCompleted  StepStatus = "Completed"
	StepFailed     StepStatus = "Failed"
)

// Step is one node of an ExecutionPlan's DAG.
type Step struct {
	StepID          string       `json:"stepId"`
	Order           int          `json:"order"`
	ServiceType     Type         `json:"serviceType"`
	Description     string       `json:"description"`
	InputMapping    InputMapping `json:"inputMapping"`
	AssignedWorker  string       `json:"assignedWorker,omitempty"`
	WorkerEndpoint  string       `json:"workerEndpoint,omitempty"`
	Price           uint64       `json:"price"`
	Status          StepStatus   `json:"status"`
	DependsOn       []string     `json:"dependsOn,omitempty"`
	TaskID          string       `json:"taskId,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
}

// ExecutionPlan is the topologically ordered decomposition of a request.
type ExecutionPlan struct {
	PlanID          string `json:"planId"`
	Steps           []Step `json:"steps"`
	EstimatedBudget uint64 `json:"estimatedBudget"`
	Reasoning       string `json:"reasoning"`
}

// PipelineExecutionResult is what C10.Execute returns.
type PipelineExecutionResult struct {
	PlanID      string         `json:"planId"`
	Success     bool           `json:"success"`
	FinalResult map[string]any `json:"finalResult,omitempty"`
	StepResults map[string]map[string]any `json:"stepResults,omitempty"`
	FailedStep  string         `json:"failedStep,omitempty"`
	Error       string         `json:"error,omitempty"`
}
