package models

// SourceFile is one loaded target file.
type SourceFile struct {
	Path    string
	Content string
}

// ReviewContext is the read-only material a review runs against. It is
// built once by the orchestrator and shared by every loop and runner for
// the review's lifetime; nothing mutates it after construction.
type ReviewContext struct {
	TaskID        string
	WorkDir       string
	Files         []SourceFile
	StructureDocs string // concatenated architecture/readme documentation
	Requirements  string
	ProjectType   string
	Previous      *FinalReport // findings restored from an earlier run of this task
}
